package journal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
)

// TaxPolicy decides what happens when tax is present but the payable account is not.
type TaxPolicy string

const (
	// TaxLenient omits the tax line and credits the full total to revenue.
	TaxLenient TaxPolicy = "lenient"
	// TaxStrict fails the posting.
	TaxStrict TaxPolicy = "strict"
)

// ParseTaxPolicy accepts "lenient" or "strict"; empty means lenient.
func ParseTaxPolicy(s string) (TaxPolicy, error) {
	switch TaxPolicy(s) {
	case "", TaxLenient:
		return TaxLenient, nil
	case TaxStrict:
		return TaxStrict, nil
	}
	return "", fmt.Errorf("journal: unknown tax policy %q", s)
}

// Draft is everything Post needs to know about a voucher.
type Draft struct {
	DocumentID     int64
	DocumentNumber string
	Date           time.Time
	BranchCode     string
	Counterparty   string
	Reference      string
	Reason         string
	Total          decimal.Decimal
	Tax            decimal.Decimal
	Debit          accounts.Account
	Credit         accounts.Account
	TaxAccount     *accounts.Account
	// Inverted marks a return: the debit leg is the contra-revenue account and the
	// credit leg pays money out. Tax is never split on inverted drafts.
	Inverted  bool
	CreatedBy int64
}

// Post builds the balanced line set for d.
func Post(d Draft, policy TaxPolicy) ([]Line, error) {
	if !d.Total.IsPositive() {
		return nil, fmt.Errorf("%w: total %s", ErrInvalidAmount, d.Total.StringFixed(2))
	}
	if d.Tax.IsNegative() || (d.Tax.IsPositive() && !d.Tax.LessThan(d.Total)) {
		return nil, fmt.Errorf("%w: tax %s of total %s", ErrInvalidAmount, d.Tax.StringFixed(2), d.Total.StringFixed(2))
	}
	ref := d.Reference
	if ref == "" {
		ref = "N/A"
	}

	var lines []Line
	if d.Inverted {
		lines = []Line{
			d.line(d.Debit, d.Total, decimal.Zero, fmt.Sprintf("Goods returned by %s - Invoice: %s", d.Counterparty, ref)),
			d.line(d.Credit, decimal.Zero, d.Total, fmt.Sprintf("Refund paid to %s", d.Counterparty)),
		}
	} else {
		revenue := d.Total
		var taxLine *Line
		if d.Tax.IsPositive() {
			switch {
			case d.TaxAccount != nil:
				revenue = d.Total.Sub(d.Tax)
				l := d.line(*d.TaxAccount, decimal.Zero, d.Tax, fmt.Sprintf("Output tax - Invoice: %s", ref))
				taxLine = &l
			case policy == TaxStrict:
				return nil, ErrTaxAccountMissing
			}
		}
		reason := d.Reason
		if reason == "" {
			reason = "Revenue"
		}
		lines = []Line{
			d.line(d.Debit, d.Total, decimal.Zero, fmt.Sprintf("Received from %s - Invoice: %s", d.Counterparty, ref)),
			d.line(d.Credit, decimal.Zero, revenue, fmt.Sprintf("%s - Invoice: %s", reason, ref)),
		}
		if taxLine != nil {
			lines = append(lines, *taxLine)
		}
	}

	if err := CheckBalance(lines, d.Total); err != nil {
		return nil, err
	}
	return lines, nil
}

func (d Draft) line(acc accounts.Account, debit, credit decimal.Decimal, desc string) Line {
	return Line{
		DocumentID:      d.DocumentID,
		DocumentType:    DocumentTypeReceipt,
		DocumentNumber:  d.DocumentNumber,
		TransactionDate: d.Date,
		AccountCode:     acc.Code,
		AccountName:     acc.Name,
		Debit:           debit.Round(2),
		Credit:          credit.Round(2),
		Description:     desc,
		BranchCode:      d.BranchCode,
		Period:          PeriodOf(d.Date),
		CreatedBy:       d.CreatedBy,
	}
}
