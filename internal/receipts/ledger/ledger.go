package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
)

var (
	// ErrAccountRequired rejects a ledger query without account code.
	ErrAccountRequired = errors.New("ledger: account code required")
	// ErrInvalidRange rejects a range whose end precedes its start.
	ErrInvalidRange = errors.New("ledger: invalid date range")
	// ErrUnknownAccount indicates the code is not in the chart of accounts.
	ErrUnknownAccount = errors.New("ledger: unknown account")
)

// Query selects one account's lines. Zero From/To leave that side open; To is
// inclusive through the end of its day.
type Query struct {
	AccountCode string
	Branch      string
	From        time.Time
	To          time.Time
}

// Entry is one ledger row with the running balance after it.
type Entry struct {
	LineID         int64           `json:"lineId"`
	Date           time.Time       `json:"date"`
	DocumentNumber string          `json:"documentNumber"`
	Description    string          `json:"description"`
	BranchCode     string          `json:"branchCode"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Balance        decimal.Decimal `json:"balance"`
	IsReversal     bool            `json:"isReversal"`
}

// Ledger is the account ledger of a period.
type Ledger struct {
	Account     accounts.Account `json:"account"`
	Branch      string           `json:"branch,omitempty"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Opening     decimal.Decimal  `json:"opening"`
	TotalDebit  decimal.Decimal  `json:"totalDebit"`
	TotalCredit decimal.Decimal  `json:"totalCredit"`
	Closing     decimal.Decimal  `json:"closing"`
	Entries     []Entry          `json:"entries"`
}

// Store reads journal lines.
type Store interface {
	// OpeningBalance is Σdebit−Σcredit of the account strictly before q.From.
	OpeningBalance(ctx context.Context, q Query) (decimal.Decimal, error)
	// Lines returns the account's lines in [From, To] ordered by (date, id).
	Lines(ctx context.Context, q Query) ([]journal.Line, error)
	// Balances aggregates every account with lines up to to: opening before
	// from, debit and credit within [from, to].
	Balances(ctx context.Context, from, to time.Time, branch string) ([]AccountBalance, error)
}

// Service builds ledgers and trial balances.
type Service struct {
	store Store
	chart accounts.Chart
}

// NewService constructs Service.
func NewService(store Store, chart accounts.Chart) *Service {
	return &Service{store: store, chart: chart}
}

// AccountLedger returns opening balance, entries with running balance, and
// closing balance for one account.
func (s *Service) AccountLedger(ctx context.Context, q Query) (Ledger, error) {
	q.AccountCode = strings.TrimSpace(q.AccountCode)
	if q.AccountCode == "" {
		return Ledger{}, ErrAccountRequired
	}
	if err := checkRange(q.From, q.To); err != nil {
		return Ledger{}, err
	}
	if !q.To.IsZero() {
		q.To = endOfDay(q.To)
	}
	acc, ok, err := s.chart.Lookup(ctx, q.AccountCode)
	if err != nil {
		return Ledger{}, err
	}
	if !ok {
		return Ledger{}, fmt.Errorf("%w: %s", ErrUnknownAccount, q.AccountCode)
	}
	opening := decimal.Zero
	if !q.From.IsZero() {
		if opening, err = s.store.OpeningBalance(ctx, q); err != nil {
			return Ledger{}, err
		}
	}
	lines, err := s.store.Lines(ctx, q)
	if err != nil {
		return Ledger{}, err
	}
	return BuildLedger(acc, q, opening, lines), nil
}

// BuildLedger walks lines in order accumulating the running balance.
func BuildLedger(acc accounts.Account, q Query, opening decimal.Decimal, lines []journal.Line) Ledger {
	l := Ledger{
		Account: acc,
		Branch:  q.Branch,
		From:    q.From,
		To:      q.To,
		Opening: opening,
		Entries: make([]Entry, 0, len(lines)),
	}
	balance := opening
	for _, line := range lines {
		balance = balance.Add(line.Debit).Sub(line.Credit)
		l.TotalDebit = l.TotalDebit.Add(line.Debit)
		l.TotalCredit = l.TotalCredit.Add(line.Credit)
		l.Entries = append(l.Entries, Entry{
			LineID:         line.ID,
			Date:           line.TransactionDate,
			DocumentNumber: line.DocumentNumber,
			Description:    line.Description,
			BranchCode:     line.BranchCode,
			Debit:          line.Debit,
			Credit:         line.Credit,
			Balance:        balance,
			IsReversal:     line.IsReversed,
		})
	}
	l.Closing = balance
	return l
}

// TrialBalance summarizes every account with activity up to to.
func (s *Service) TrialBalance(ctx context.Context, from, to time.Time, branch string) (TrialBalance, error) {
	if from.IsZero() || to.IsZero() {
		return TrialBalance{}, fmt.Errorf("%w: from and to required", ErrInvalidRange)
	}
	if err := checkRange(from, to); err != nil {
		return TrialBalance{}, err
	}
	to = endOfDay(to)
	balances, err := s.store.Balances(ctx, from, to, branch)
	if err != nil {
		return TrialBalance{}, err
	}
	for i := range balances {
		if balances[i].Name != "" {
			continue
		}
		if acc, ok, err := s.chart.Lookup(ctx, balances[i].Code); err == nil && ok {
			balances[i].Name = acc.Name
		}
	}
	tb := BuildTrialBalance(balances)
	tb.From, tb.To, tb.Branch = from, to, branch
	return tb, nil
}

func checkRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return ErrInvalidRange
	}
	return nil
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Millisecond), t.Location())
}
