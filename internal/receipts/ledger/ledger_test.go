package ledger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mapChart map[string]accounts.Account

func (m mapChart) Lookup(_ context.Context, code string) (accounts.Account, bool, error) {
	acc, ok := m[code]
	return acc, ok, nil
}

type memoryStore struct {
	lines []journal.Line
	query Query
}

func (m *memoryStore) OpeningBalance(_ context.Context, q Query) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range m.lines {
		if l.AccountCode == q.AccountCode && l.TransactionDate.Before(q.From) {
			total = total.Add(l.Debit).Sub(l.Credit)
		}
	}
	return total, nil
}

func (m *memoryStore) Lines(_ context.Context, q Query) ([]journal.Line, error) {
	m.query = q
	var out []journal.Line
	for _, l := range m.lines {
		if l.AccountCode != q.AccountCode {
			continue
		}
		if !q.From.IsZero() && l.TransactionDate.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && l.TransactionDate.After(q.To) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *memoryStore) Balances(_ context.Context, from, to time.Time, _ string) ([]AccountBalance, error) {
	byCode := map[string]*AccountBalance{}
	var order []string
	for _, l := range m.lines {
		if l.TransactionDate.After(to) {
			continue
		}
		b, ok := byCode[l.AccountCode]
		if !ok {
			b = &AccountBalance{Code: l.AccountCode}
			byCode[l.AccountCode] = b
			order = append(order, l.AccountCode)
		}
		if l.TransactionDate.Before(from) {
			b.Opening = b.Opening.Add(l.Debit).Sub(l.Credit)
			continue
		}
		b.Debit = b.Debit.Add(l.Debit)
		b.Credit = b.Credit.Add(l.Credit)
	}
	out := make([]AccountBalance, 0, len(order))
	for _, code := range order {
		out = append(out, *byCode[code])
	}
	return out, nil
}

func line(id int64, code string, day int, debit, credit string) journal.Line {
	return journal.Line{
		ID:              id,
		AccountCode:     code,
		DocumentNumber:  "RP-HQ-26030001",
		TransactionDate: time.Date(2026, 3, day, 10, 0, 0, 0, time.UTC),
		Debit:           d(debit),
		Credit:          d(credit),
		BranchCode:      "HQ",
	}
}

func fixture() (*memoryStore, mapChart) {
	store := &memoryStore{lines: []journal.Line{
		line(1, "11103", 1, "1000", "0"),
		line(2, "11301", 1, "0", "1000"),
		line(3, "11103", 10, "5000", "0"),
		line(4, "11301", 10, "0", "5000"),
		line(5, "11103", 20, "0", "5000"),
		line(6, "11301", 20, "5000", "0"),
	}}
	chart := mapChart{
		"11103": {Code: "11103", Name: "Bank deposits"},
		"11301": {Code: "11301", Name: "Trade receivables"},
	}
	return store, chart
}

func TestAccountLedgerRunningBalance(t *testing.T) {
	store, chart := fixture()
	svc := NewService(store, chart)

	l, err := svc.AccountLedger(context.Background(), Query{
		AccountCode: "11103",
		From:        time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "Bank deposits", l.Account.Name)
	require.True(t, l.Opening.Equal(d("1000")))
	require.Len(t, l.Entries, 2)
	require.True(t, l.Entries[0].Balance.Equal(d("6000")))
	require.True(t, l.Entries[1].Balance.Equal(d("1000")))
	require.True(t, l.Closing.Equal(d("1000")))
	require.True(t, l.TotalDebit.Equal(d("5000")))
	require.True(t, l.TotalCredit.Equal(d("5000")))
	require.Equal(t, 23, store.query.To.Hour(), "to is inclusive through end of day")
}

func TestAccountLedgerErrors(t *testing.T) {
	store, chart := fixture()
	svc := NewService(store, chart)
	ctx := context.Background()

	_, err := svc.AccountLedger(ctx, Query{})
	require.ErrorIs(t, err, ErrAccountRequired)

	_, err = svc.AccountLedger(ctx, Query{AccountCode: "99999"})
	require.ErrorIs(t, err, ErrUnknownAccount)

	_, err = svc.AccountLedger(ctx, Query{
		AccountCode: "11103",
		From:        time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestTrialBalanceGroupsAndBalances(t *testing.T) {
	store, chart := fixture()
	svc := NewService(store, chart)

	tb, err := svc.TrialBalance(context.Background(),
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	require.Len(t, tb.Groups, 1)
	require.Equal(t, "11", tb.Groups[0].Key)
	require.Len(t, tb.Groups[0].Accounts, 2)
	require.Equal(t, "Bank deposits", tb.Groups[0].Accounts[0].Name)
	require.True(t, tb.TotalDebit.Equal(d("10000")))
	require.True(t, tb.TotalCredit.Equal(d("10000")))
	require.True(t, tb.TotalOpening.IsZero())
	require.True(t, tb.Balanced)
}

func TestBuildTrialBalanceFlagsImbalance(t *testing.T) {
	tb := BuildTrialBalance([]AccountBalance{
		{Code: "11101", Debit: d("100.00")},
		{Code: "44101", Credit: d("99.90")},
	})
	require.Len(t, tb.Groups, 2)
	require.False(t, tb.Balanced)
}

func TestExportLedgerXLSX(t *testing.T) {
	store, chart := fixture()
	l, err := NewService(store, chart).AccountLedger(context.Background(), Query{AccountCode: "11103"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportLedgerXLSX(&buf, l))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	title, err := f.GetCellValue(ledgerSheet, "A1")
	require.NoError(t, err)
	require.Equal(t, "Account ledger 11103 Bank deposits", title)
	// title, period, blank, header, opening, 3 entries, closing
	closing, err := f.GetCellValue(ledgerSheet, "C9")
	require.NoError(t, err)
	require.Equal(t, "Closing balance", closing)
	balance, err := f.GetCellValue(ledgerSheet, "G8", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	stored, err := decimal.NewFromString(balance)
	require.NoError(t, err)
	require.True(t, stored.Equal(d("1000")), "closing balance %s", balance)
}

func TestExportTrialBalanceXLSX(t *testing.T) {
	tb := BuildTrialBalance([]AccountBalance{
		{Code: "11103", Name: "Bank deposits", Debit: d("5000")},
		{Code: "11301", Name: "Trade receivables", Credit: d("5000")},
	})
	tb.From = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tb.To = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, ExportTrialBalanceXLSX(&buf, tb))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	status, err := f.GetCellValue(tbSheet, "B3")
	require.NoError(t, err)
	require.Equal(t, "balanced", status)
}

func TestHandlerRoutes(t *testing.T) {
	store, chart := fixture()
	h := NewHandler(discardLogger(), NewService(store, chart))
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/11103?from=2026-03-05", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/99999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trial-balance?from=2026-03-01", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trial-balance/export?from=2026-03-01&to=2026-03-31", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	require.Greater(t, rec.Body.Len(), 0)
}

func TestHandlerRejectsBadDate(t *testing.T) {
	store, chart := fixture()
	h := NewHandler(discardLogger(), NewService(store, chart))
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger/11103?from=03-05-2026", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
