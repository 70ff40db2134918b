package receipts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDetectType(t *testing.T) {
	no := false
	cases := []struct {
		name string
		src  SourceTransaction
		want VoucherType
	}{
		{"explicit transaction type", SourceTransaction{TransactionType: "Deposit", Reason: ReasonPOSSale}, TypeDeposit},
		{"reason map", SourceTransaction{Reason: ReasonDebtPayment, Direction: DirectionIn}, TypeDebtPayment},
		{"reason map wins over heuristics", SourceTransaction{Reason: ReasonPOSSale, Direction: DirectionOut, PaymentMethod: "none"}, TypeCashSale},
		{"return keyword on inbound", SourceTransaction{Reason: "customer return", Direction: DirectionIn}, TypeReturn},
		{"original invoice", SourceTransaction{Reason: "misc", OriginalInvoice: "INV-1"}, TypeReturn},
		{"debt invoices", SourceTransaction{Reason: "misc", DebtInvoices: []string{"INV-2"}}, TypeDebtPayment},
		{"deposit keyword", SourceTransaction{Reason: "เงินดาวน์", Direction: DirectionIn}, TypeDeposit},
		{"payment not received", SourceTransaction{Reason: "misc", Direction: DirectionOut, PaymentReceived: &no}, TypeCreditSale},
		{"installment keyword", SourceTransaction{Reason: "Installment plan", Direction: DirectionOut}, TypeInstallment},
		{"service keyword", SourceTransaction{Reason: "repair service", Direction: DirectionOut}, TypeService},
		{"fallback", SourceTransaction{Reason: "misc", Direction: DirectionOut}, TypeCashSale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetectType(tc.src))
		})
	}
}

func TestReasonsFor(t *testing.T) {
	require.Len(t, ReasonsFor(nil), 8)
	require.Equal(t, []string{ReasonPOSSale, ReasonCashSale}, ReasonsFor([]VoucherType{TypeCashSale}))
	require.Equal(t, []string{ReasonDebtPayment, ReasonReturn}, ReasonsFor([]VoucherType{TypeReturn, TypeDebtPayment}))
}

func TestReasonDirection(t *testing.T) {
	require.Equal(t, DirectionIn, ReasonDirection(ReasonReturn))
	require.Equal(t, DirectionIn, ReasonDirection(ReasonDebtPayment))
	require.Equal(t, DirectionIn, ReasonDirection(ReasonDeposit))
	require.Equal(t, DirectionOut, ReasonDirection(ReasonPOSSale))
	require.Equal(t, DirectionOut, ReasonDirection(ReasonService))
}

func TestCustomerName(t *testing.T) {
	require.Equal(t, "Acme Co", CustomerName(SourceTransaction{CustomerType: "corporate", Customer: CustomerInfo{CompanyName: "Acme Co"}}))
	require.Equal(t, defaultCorporate, CustomerName(SourceTransaction{CustomerType: "Corporate"}))
	require.Equal(t, "Ms.Ann Lee", CustomerName(SourceTransaction{Customer: CustomerInfo{Prefix: "Ms.", FirstName: "Ann", LastName: "Lee"}}))
	require.Equal(t, "Bob", CustomerName(SourceTransaction{Customer: CustomerInfo{Name: "Bob"}}))
	require.Equal(t, defaultCustomer, CustomerName(SourceTransaction{}))
}

func TestPostingAmount(t *testing.T) {
	src := SourceTransaction{TotalAmount: d("1070"), NetAmount: decimal.NewNullDecimal(d("1000.005"))}
	require.True(t, PostingAmount(src, TypeCashSale).Equal(d("1000.01")))

	ret := SourceTransaction{TotalAmount: d("-250")}
	require.True(t, PostingAmount(ret, TypeReturn).Equal(d("250")))
	require.True(t, PostingAmount(ret, TypeCashSale).Equal(d("-250")))
}

func TestNotes(t *testing.T) {
	require.Equal(t, "Cash sale Invoice: -", Notes(TypeCashSale, SourceTransaction{}))
	require.Equal(t, "Debt payment for Invoice: A, B", Notes(TypeDebtPayment, SourceTransaction{DebtInvoices: []string{"A", "B"}}))
	require.Equal(t, "Installment sale Contract: C-9", Notes(TypeInstallment, SourceTransaction{ContractNumber: "C-9"}))
	require.Equal(t, "Odd - auto created", Notes("other", SourceTransaction{Reason: "Odd"}))
}

func TestBuildDetails(t *testing.T) {
	summary := BuildDetails(SourceTransaction{Reason: ReasonPOSSale}, d("500"))
	require.Len(t, summary, 1)
	require.Equal(t, ReasonPOSSale+" - Invoice: N/A", summary[0].Description)
	require.True(t, summary[0].Amount.Equal(d("500")))

	items := BuildDetails(SourceTransaction{Items: []Item{
		{Name: "Phone", SKU: "P1", Qty: d("2"), Price: d("150.50")},
		{Price: d("10")},
	}}, d("311"))
	require.Len(t, items, 2)
	require.True(t, items[0].Amount.Equal(d("301")))
	require.Equal(t, "pcs", items[0].Unit)
	require.Equal(t, defaultItemName, items[1].Description)
	require.True(t, items[1].Quantity.Equal(d("1")))
}
