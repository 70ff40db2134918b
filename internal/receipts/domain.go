// Package receipts posts receipt vouchers for sales and stock movements: one
// voucher per source transaction, with balanced journal lines, cancellation by
// reversal, and batch reconciliation of pending sources.
package receipts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
)

// VoucherType is the voucher category.
type VoucherType string

const (
	TypeCashSale    VoucherType = "cash_sale"
	TypeCreditSale  VoucherType = "credit_sale"
	TypeDebtPayment VoucherType = "debt_payment"
	TypeDeposit     VoucherType = "deposit"
	TypeReturn      VoucherType = "return"
	TypeService     VoucherType = "service"
	TypeInstallment VoucherType = "installment"
)

// AllTypes lists every voucher type.
var AllTypes = []VoucherType{TypeCashSale, TypeCreditSale, TypeDebtPayment, TypeDeposit, TypeReturn, TypeService, TypeInstallment}

// Valid reports whether t is a known type.
func (t VoucherType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Direction is the stock movement direction of a source transaction.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Direction returns the movement a voucher type expects.
func (t VoucherType) Direction() Direction {
	switch t {
	case TypeDebtPayment, TypeDeposit, TypeReturn:
		return DirectionIn
	}
	return DirectionOut
}

// Status is the voucher lifecycle state.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CustomerInfo is the counterparty captured on the source.
type CustomerInfo struct {
	Prefix      string `json:"prefix,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	TaxID       string `json:"taxId,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Item is one sold or returned line on a source transaction.
type Item struct {
	Name  string          `json:"name"`
	SKU   string          `json:"sku,omitempty"`
	IMEI  string          `json:"imei,omitempty"`
	Unit  string          `json:"unit,omitempty"`
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

// SourceTransaction is the stock/sale movement a voucher is posted against.
// Only Posted, VoucherID and PostedAt are written by this package.
type SourceTransaction struct {
	ID              int64               `json:"id"`
	BranchCode      string              `json:"branchCode"`
	Direction       Direction           `json:"direction"`
	Reason          string              `json:"reason"`
	TransactionType string              `json:"transactionType,omitempty"`
	PaymentMethod   string              `json:"paymentMethod,omitempty"`
	PaymentReceived *bool               `json:"paymentReceived,omitempty"`
	BankAccount     string              `json:"bankAccount,omitempty"`
	TotalAmount     decimal.Decimal     `json:"totalAmount"`
	NetAmount       decimal.NullDecimal `json:"netAmount"`
	TaxAmount       decimal.Decimal     `json:"taxAmount"`
	InvoiceNumber   string              `json:"invoiceNumber,omitempty"`
	OrderID         string              `json:"orderId,omitempty"`
	ContractNumber  string              `json:"contractNumber,omitempty"`
	OriginalInvoice string              `json:"originalInvoice,omitempty"`
	DebtInvoices    []string            `json:"debtInvoices,omitempty"`
	CustomerType    string              `json:"customerType,omitempty"`
	Customer        CustomerInfo        `json:"customer"`
	Items           []Item              `json:"items,omitempty"`
	PerformedAt     time.Time           `json:"performedAt"`
	PerformedBy     int64               `json:"performedBy,omitempty"`
	Posted          bool                `json:"posted"`
	VoucherID       *int64              `json:"voucherId,omitempty"`
	PostedAt        *time.Time          `json:"postedAt,omitempty"`
}

// Reference is the correlation block of a voucher.
type Reference struct {
	SourceID        int64    `json:"sourceId"`
	InvoiceNumber   string   `json:"invoiceNumber,omitempty"`
	OriginalInvoice string   `json:"originalInvoice,omitempty"`
	DebtInvoices    []string `json:"debtInvoices,omitempty"`
	ContractNumber  string   `json:"contractNumber,omitempty"`
}

// DetailLine is a printable line of a voucher.
type DetailLine struct {
	ID          int64           `json:"id"`
	VoucherID   int64           `json:"voucherId"`
	Description string          `json:"description"`
	SKU         string          `json:"sku,omitempty"`
	IMEI        string          `json:"imei,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

// Voucher is a receipt voucher. Account snapshots are copied at creation.
type Voucher struct {
	ID             int64            `json:"id"`
	DocumentNumber string           `json:"documentNumber"`
	Type           VoucherType      `json:"type"`
	BranchCode     string           `json:"branchCode"`
	PaymentDate    time.Time        `json:"paymentDate"`
	DebitAccount   accounts.Account `json:"debitAccount"`
	CreditAccount  accounts.Account `json:"creditAccount"`
	ReceivedFrom   string           `json:"receivedFrom"`
	PaymentMethod  string           `json:"paymentMethod"`
	BankAccount    string           `json:"bankAccount,omitempty"`
	TotalAmount    decimal.Decimal  `json:"totalAmount"`
	TaxAmount      decimal.Decimal  `json:"taxAmount"`
	Notes          string           `json:"notes"`
	Status         Status           `json:"status"`
	Reference      Reference        `json:"reference"`
	CustomerType   string           `json:"customerType"`
	AutoDetected   bool             `json:"autoDetected"`
	CreatedBy      int64            `json:"createdBy,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	CancelledBy    *int64           `json:"cancelledBy,omitempty"`
	CancelledAt    *time.Time       `json:"cancelledAt,omitempty"`
	CancelReason   string           `json:"cancelReason,omitempty"`
	Details        []DetailLine     `json:"details,omitempty"`
	Lines          []journal.Line   `json:"journalLines,omitempty"`
}

// BatchStatus is the terminal or running state of a batch run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// BatchFilter scopes a batch run.
type BatchFilter struct {
	Branch string        `json:"branch,omitempty"`
	Types  []VoucherType `json:"types,omitempty"`
	From   *time.Time    `json:"from,omitempty"`
	To     *time.Time    `json:"to,omitempty"`
	Limit  int           `json:"limit"`
}

// ItemError records one failed item.
type ItemError struct {
	SourceID      int64  `json:"sourceId"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Message       string `json:"message"`
}

// BatchRun is the audit trail of one orchestrator run.
type BatchRun struct {
	ID          int64       `json:"id"`
	JobID       string      `json:"jobId"`
	Status      BatchStatus `json:"status"`
	Filter      BatchFilter `json:"params"`
	Total       int         `json:"total"`
	Processed   int         `json:"processed"`
	Success     int         `json:"success"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped"`
	Errors      []ItemError `json:"errors,omitempty"`
	Message     string      `json:"message,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	DurationMS  int64       `json:"durationMs"`
	CreatedBy   int64       `json:"createdBy,omitempty"`
}

// PendingFilter selects unposted sources.
type PendingFilter struct {
	Branch  string
	Reasons []string
	From    *time.Time
	To      *time.Time
	Limit   int
	// NewestFirst flips the default oldest-first order.
	NewestFirst bool
}

// ListFilter selects vouchers.
type ListFilter struct {
	Branch  string
	Type    VoucherType
	Status  Status
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

// SummaryFilter selects sources for Summary.
type SummaryFilter struct {
	Branch  string
	From    time.Time
	To      time.Time
	Reasons []string
}

// SummaryRow is one (posted, reason) aggregate.
type SummaryRow struct {
	Posted bool
	Reason string
	Count  int
	Amount decimal.Decimal
}

// CreateInput requests a voucher for one source. An empty Type is detected from
// the source; empty PaymentMethod and BankAccount fall back to the source's.
type CreateInput struct {
	SourceID      int64       `json:"sourceId" validate:"required,gt=0"`
	Type          VoucherType `json:"type,omitempty" validate:"omitempty,oneof=cash_sale credit_sale debt_payment deposit return service installment"`
	PaymentMethod string      `json:"paymentMethod,omitempty" validate:"omitempty,max=32"`
	BankAccount   string      `json:"bankAccount,omitempty" validate:"omitempty,max=64"`
	ActorID       int64       `json:"-"`
}

// CancelInput cancels a voucher.
type CancelInput struct {
	VoucherID int64  `json:"-"`
	Reason    string `json:"reason" validate:"required,max=255"`
	ActorID   int64  `json:"-"`
}

// PostStatus tags the outcome of Create.
type PostStatus string

const (
	PostCreated       PostStatus = "created"
	PostAlreadyExists PostStatus = "already_exists"
)

// PostResult is the outcome of Create. Failures are returned as errors.
type PostResult struct {
	Status   PostStatus `json:"status"`
	Voucher  Voucher    `json:"voucher"`
	Strategy string     `json:"strategy,omitempty"`
	Healed   bool       `json:"healed,omitempty"`
}

// ItemOutcome classifies one batch or retry item.
type ItemOutcome string

const (
	OutcomeSuccess ItemOutcome = "success"
	OutcomeSkipped ItemOutcome = "skipped"
	OutcomeFailed  ItemOutcome = "failed"
)

// Classify maps a Create result to an item outcome.
func Classify(res PostResult, err error) ItemOutcome {
	switch {
	case err != nil:
		return OutcomeFailed
	case res.Status == PostAlreadyExists:
		return OutcomeSkipped
	case res.Status == PostCreated:
		return OutcomeSuccess
	}
	return OutcomeFailed
}

// RetryInput lists sources to post again.
type RetryInput struct {
	SourceIDs     []int64 `json:"sourceIds" validate:"required,min=1,max=500,dive,gt=0"`
	PaymentMethod string  `json:"paymentMethod,omitempty" validate:"omitempty,max=32"`
	BankAccount   string  `json:"bankAccount,omitempty" validate:"omitempty,max=64"`
	ActorID       int64   `json:"-"`
}

// RetryItem is the per-source outcome of RetryFailed.
type RetryItem struct {
	SourceID       int64  `json:"sourceId"`
	VoucherID      int64  `json:"voucherId,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
	Message        string `json:"message,omitempty"`
}

// RetryResult groups RetryFailed outcomes.
type RetryResult struct {
	Succeeded []RetryItem `json:"succeeded"`
	Skipped   []RetryItem `json:"skipped"`
	Failed    []RetryItem `json:"failed"`
	Total     int         `json:"total"`
}

// PendingInput scopes CheckPending.
type PendingInput struct {
	Branch string
	Types  []VoucherType
	From   *time.Time
	To     *time.Time
}

// PendingSample is one unposted source.
type PendingSample struct {
	SourceID      int64           `json:"sourceId"`
	BranchCode    string          `json:"branchCode"`
	Reason        string          `json:"reason"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	DetectedType  VoucherType     `json:"detectedType"`
	PerformedAt   time.Time       `json:"performedAt"`
}

// PendingReport is the result of CheckPending.
type PendingReport struct {
	TotalPending int             `json:"totalPending"`
	Samples      []PendingSample `json:"samples"`
}

// SummaryBucket is a count and amount.
type SummaryBucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// ReasonSummary splits one reason into posted and pending.
type ReasonSummary struct {
	Reason        string          `json:"reason"`
	PostedCount   int             `json:"postedCount"`
	PostedAmount  decimal.Decimal `json:"postedAmount"`
	PendingCount  int             `json:"pendingCount"`
	PendingAmount decimal.Decimal `json:"pendingAmount"`
}

// SummaryReport is the result of Summary.
type SummaryReport struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Branch      string          `json:"branch,omitempty"`
	Posted      SummaryBucket   `json:"withReceipt"`
	Pending     SummaryBucket   `json:"withoutReceipt"`
	ByReason    []ReasonSummary `json:"byReason"`
	TotalCount  int             `json:"totalCount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Progress is reported after every batch item.
type Progress struct {
	JobID     string      `json:"jobId"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	Success   int         `json:"success"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Current   int64       `json:"currentSourceId"`
	Outcome   ItemOutcome `json:"outcome"`
}
