package receipts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Source reasons recorded by the POS, keyed to the voucher type they post as.
const (
	ReasonPOSSale      = "ขาย POS"
	ReasonCashSale     = "ขายสด"
	ReasonCreditSale   = "ขายเชื่อ"
	ReasonDebtPayment  = "รับชำระหนี้"
	ReasonDeposit      = "รับเงินมัดจำ"
	ReasonReturn       = "คืนสินค้า"
	ReasonInstallment  = "ขายแบบผ่อน"
	ReasonService      = "บริการ"
	defaultCustomer    = "walk-in customer"
	defaultCorporate   = "unnamed company"
	defaultItemName    = "unnamed item"
	defaultDetailLabel = "Sales revenue"
)

var reasonTypes = map[string]VoucherType{
	ReasonPOSSale:     TypeCashSale,
	ReasonCashSale:    TypeCashSale,
	ReasonCreditSale:  TypeCreditSale,
	ReasonDebtPayment: TypeDebtPayment,
	ReasonDeposit:     TypeDeposit,
	ReasonReturn:      TypeReturn,
	ReasonInstallment: TypeInstallment,
	ReasonService:     TypeService,
}

var transactionTypes = map[string]VoucherType{
	"sale":         TypeCashSale,
	"credit_sale":  TypeCreditSale,
	"debt_payment": TypeDebtPayment,
	"deposit":      TypeDeposit,
	"return":       TypeReturn,
	"installment":  TypeInstallment,
	"service":      TypeService,
}

// ReasonsFor lists the source reasons that post as any of types. No types means all.
func ReasonsFor(types []VoucherType) []string {
	want := make(map[VoucherType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []string
	for _, reason := range []string{ReasonPOSSale, ReasonCashSale, ReasonCreditSale, ReasonDebtPayment, ReasonDeposit, ReasonReturn, ReasonInstallment, ReasonService} {
		if len(want) == 0 || want[reasonTypes[reason]] {
			out = append(out, reason)
		}
	}
	return out
}

// ReasonDirection is the stock movement a source with reason must carry to post.
func ReasonDirection(reason string) Direction {
	return reasonTypes[reason].Direction()
}

func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// DetectType infers the voucher type of a source. Explicit transaction types win,
// then heuristics over reason text and payment data, then the reason map.
func DetectType(src SourceTransaction) VoucherType {
	if t, ok := transactionTypes[strings.ToLower(src.TransactionType)]; ok {
		return t
	}
	if t, ok := reasonTypes[strings.TrimSpace(src.Reason)]; ok {
		return t
	}
	if src.Direction == DirectionIn && containsAny(src.Reason, "คืน", "return") {
		return TypeReturn
	}
	if src.OriginalInvoice != "" {
		return TypeReturn
	}
	if len(src.DebtInvoices) > 0 || containsAny(src.Reason, "ชำระหนี้", "รับชำระ", "payment") {
		return TypeDebtPayment
	}
	if containsAny(src.Reason, "มัดจำ", "deposit", "ดาวน์") {
		return TypeDeposit
	}
	if src.Direction == DirectionOut {
		notReceived := src.PaymentReceived != nil && !*src.PaymentReceived
		if notReceived || strings.EqualFold(src.PaymentMethod, "none") || containsAny(src.Reason, "เชื่อ", "credit") {
			return TypeCreditSale
		}
		if containsAny(src.Reason, "ผ่อน", "installment") {
			return TypeInstallment
		}
		if containsAny(src.Reason, "บริการ", "service") {
			return TypeService
		}
	}
	return TypeCashSale
}

// CustomerName derives the counterparty shown on the voucher.
func CustomerName(src SourceTransaction) string {
	c := src.Customer
	if strings.EqualFold(src.CustomerType, "corporate") {
		if c.CompanyName != "" {
			return c.CompanyName
		}
		return defaultCorporate
	}
	if c.FirstName != "" || c.LastName != "" {
		return strings.TrimSpace(c.Prefix + c.FirstName + " " + c.LastName)
	}
	if c.Name != "" {
		return c.Name
	}
	return defaultCustomer
}

// PostingAmount is the net amount when present, else the total; returns post the
// absolute value.
func PostingAmount(src SourceTransaction, t VoucherType) decimal.Decimal {
	amount := src.TotalAmount
	if src.NetAmount.Valid {
		amount = src.NetAmount.Decimal
	}
	if t == TypeReturn {
		amount = amount.Abs()
	}
	return amount.Round(2)
}

// Notes renders the voucher note for a type.
func Notes(t VoucherType, src SourceTransaction) string {
	or := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	switch t {
	case TypeCashSale:
		return "Cash sale Invoice: " + or(src.InvoiceNumber)
	case TypeCreditSale:
		return "Credit sale Invoice: " + or(src.InvoiceNumber)
	case TypeDebtPayment:
		return "Debt payment for Invoice: " + or(strings.Join(src.DebtInvoices, ", "))
	case TypeDeposit:
		return "Deposit received Invoice: " + or(src.InvoiceNumber)
	case TypeReturn:
		return "Goods returned from Invoice: " + or(src.OriginalInvoice)
	case TypeService:
		return "Service income Invoice: " + or(src.InvoiceNumber)
	case TypeInstallment:
		return "Installment sale Contract: " + or(src.ContractNumber)
	}
	reason := src.Reason
	if reason == "" {
		reason = "Receipt"
	}
	return reason + " - auto created"
}

// BuildDetails returns one detail per item, or a single summary line when the
// source carries no items.
func BuildDetails(src SourceTransaction, total decimal.Decimal) []DetailLine {
	if len(src.Items) == 0 {
		reason := src.Reason
		if reason == "" {
			reason = defaultDetailLabel
		}
		ref := src.InvoiceNumber
		if ref == "" {
			ref = "N/A"
		}
		return []DetailLine{{
			Description: fmt.Sprintf("%s - Invoice: %s", reason, ref),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   total,
			Amount:      total,
		}}
	}
	out := make([]DetailLine, 0, len(src.Items))
	for _, item := range src.Items {
		qty := item.Qty
		if !qty.IsPositive() {
			qty = decimal.NewFromInt(1)
		}
		name := item.Name
		if name == "" {
			name = defaultItemName
		}
		unit := item.Unit
		if unit == "" {
			unit = "pcs"
		}
		out = append(out, DetailLine{
			Description: name,
			SKU:         item.SKU,
			IMEI:        item.IMEI,
			Unit:        unit,
			Quantity:    qty,
			UnitPrice:   item.Price,
			Amount:      qty.Mul(item.Price).Round(2),
		})
	}
	return out
}
