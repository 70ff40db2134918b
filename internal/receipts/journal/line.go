// Package journal builds balanced double-entry lines for receipt vouchers and
// their reversals.
package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentTypeReceipt tags lines owned by receipt vouchers.
const DocumentTypeReceipt = "RV"

// Tolerance is the largest difference accepted by balance checks.
var Tolerance = decimal.NewFromFloat(0.01)

var (
	// ErrUnbalanced indicates debits and credits (or the voucher total) disagree.
	ErrUnbalanced = errors.New("journal: lines are not balanced")
	// ErrInvalidLine indicates a line with both or neither side set.
	ErrInvalidLine = errors.New("journal: line must carry exactly one of debit or credit")
	// ErrInvalidAmount indicates a non-positive total or out-of-range tax.
	ErrInvalidAmount = errors.New("journal: invalid amount")
	// ErrTaxAccountMissing is returned under TaxStrict when tax is present but unconfigured.
	ErrTaxAccountMissing = errors.New("journal: tax payable account not configured")
	// ErrAlreadyReversed rejects reversing a reversal line.
	ErrAlreadyReversed = errors.New("journal: line is already a reversal")
	// ErrReasonRequired rejects a reversal without a reason.
	ErrReasonRequired = errors.New("journal: reversal reason required")
)

// Period is the fiscal bucket derived from a transaction date.
type Period struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	Quarter int `json:"quarter"`
}

// PeriodOf derives the period of t.
func PeriodOf(t time.Time) Period {
	m := int(t.Month())
	return Period{Year: t.Year(), Month: m, Quarter: (m-1)/3 + 1}
}

// Line is one debit or credit entry owned by a document.
type Line struct {
	ID              int64           `json:"id"`
	DocumentID      int64           `json:"documentId"`
	DocumentType    string          `json:"documentType"`
	DocumentNumber  string          `json:"documentNumber"`
	TransactionDate time.Time       `json:"transactionDate"`
	AccountCode     string          `json:"accountCode"`
	AccountName     string          `json:"accountName"`
	Debit           decimal.Decimal `json:"debit"`
	Credit          decimal.Decimal `json:"credit"`
	Description     string          `json:"description"`
	BranchCode      string          `json:"branchCode"`
	Period          Period          `json:"period"`
	IsReversed      bool            `json:"isReversed"`
	ReversedFrom    *int64          `json:"reversedFrom,omitempty"`
	CreatedBy       int64           `json:"createdBy,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Amount returns whichever side is set.
func (l Line) Amount() decimal.Decimal {
	if l.Debit.IsPositive() {
		return l.Debit
	}
	return l.Credit
}

// Validate enforces the exactly-one-side rule.
func Validate(line Line) error {
	if line.AccountCode == "" {
		return fmt.Errorf("%w: account code missing", ErrInvalidLine)
	}
	if line.Debit.IsNegative() || line.Credit.IsNegative() {
		return fmt.Errorf("%w: negative amount on %s", ErrInvalidLine, line.AccountCode)
	}
	if line.Debit.IsPositive() == line.Credit.IsPositive() {
		return fmt.Errorf("%w: %s debit=%s credit=%s", ErrInvalidLine, line.AccountCode, line.Debit.StringFixed(2), line.Credit.StringFixed(2))
	}
	return nil
}

// Totals sums both sides.
func Totals(lines []Line) (debit, credit decimal.Decimal) {
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// CheckBalance requires sum(debit) == sum(credit) == total within Tolerance.
func CheckBalance(lines []Line, total decimal.Decimal) error {
	for _, l := range lines {
		if err := Validate(l); err != nil {
			return err
		}
	}
	debit, credit := Totals(lines)
	if debit.Sub(credit).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	if debit.Sub(total).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: lines %s voucher total %s", ErrUnbalanced, debit.StringFixed(2), total.StringFixed(2))
	}
	return nil
}
