package receipts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/numbering"
	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memState struct {
	sources  map[int64]SourceTransaction
	branches map[string]bool
	vouchers map[int64]Voucher
	lines    []journal.Line
	debts    map[string]decimal.Decimal
	runs     []BatchRun
	nextID   int64
}

func (s memState) clone() memState {
	out := s
	out.sources = make(map[int64]SourceTransaction, len(s.sources))
	for k, v := range s.sources {
		out.sources[k] = v
	}
	out.branches = make(map[string]bool, len(s.branches))
	for k, v := range s.branches {
		out.branches[k] = v
	}
	out.vouchers = make(map[int64]Voucher, len(s.vouchers))
	for k, v := range s.vouchers {
		out.vouchers[k] = v
	}
	out.debts = make(map[string]decimal.Decimal, len(s.debts))
	for k, v := range s.debts {
		out.debts[k] = v
	}
	out.lines = slices.Clone(s.lines)
	out.runs = slices.Clone(s.runs)
	return out
}

// memoryRepo is an in-memory stand-in for Repository. WithTx serialises
// transactions and rolls the state back when fn fails.
type memoryRepo struct {
	mu    sync.Mutex
	state memState

	pendingErr error
	// insertErrs are returned by successive InsertVoucher calls.
	insertErrs []error
	txCount    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memState{
		sources:  map[int64]SourceTransaction{},
		branches: map[string]bool{"HQ": true, "BKK": true},
		vouchers: map[int64]Voucher{},
		debts:    map[string]decimal.Decimal{},
	}}
}

func (m *memoryRepo) addSource(src SourceTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sources[src.ID] = src
}

func (m *memoryRepo) source(id int64) SourceTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.sources[id]
}

func (m *memoryRepo) voucherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.vouchers)
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	saved := m.state.clone()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *memoryRepo) pending(filter PendingFilter) []SourceTransaction {
	var out []SourceTransaction
	for _, src := range m.state.sources {
		if src.Posted {
			continue
		}
		if filter.Branch != "" && src.BranchCode != filter.Branch {
			continue
		}
		if len(filter.Reasons) > 0 && (!slices.Contains(filter.Reasons, src.Reason) || src.Direction != ReasonDirection(src.Reason)) {
			continue
		}
		if filter.From != nil && src.PerformedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && src.PerformedAt.After(*filter.To) {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.NewestFirst {
			return out[i].PerformedAt.After(out[j].PerformedAt)
		}
		return out[i].PerformedAt.Before(out[j].PerformedAt)
	})
	return out
}

func (m *memoryRepo) ListPending(_ context.Context, filter PendingFilter) ([]SourceTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return nil, m.pendingErr
	}
	out := m.pending(filter)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryRepo) CountPending(_ context.Context, filter PendingFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return 0, m.pendingErr
	}
	return len(m.pending(filter)), nil
}

func (m *memoryRepo) withLines(v Voucher) Voucher {
	v.Lines = nil
	for _, l := range m.state.lines {
		if l.DocumentID == v.ID {
			v.Lines = append(v.Lines, l)
		}
	}
	return v
}

func (m *memoryRepo) GetVoucher(_ context.Context, id int64) (Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state.vouchers[id]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return m.withLines(v), nil
}

func (m *memoryRepo) GetVoucherBySource(_ context.Context, sourceID int64) (Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Voucher
	for _, v := range m.state.vouchers {
		if v.Reference.SourceID != sourceID {
			continue
		}
		if found == nil || (v.Status == StatusCompleted && found.Status != StatusCompleted) {
			copied := v
			found = &copied
		}
	}
	if found == nil {
		return Voucher{}, ErrVoucherNotFound
	}
	return m.withLines(*found), nil
}

func (m *memoryRepo) ListVouchers(_ context.Context, filter ListFilter) ([]Voucher, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Voucher
	for _, v := range m.state.vouchers {
		if filter.Branch != "" && v.BranchCode != filter.Branch {
			continue
		}
		if filter.Type != "" && v.Type != filter.Type {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	page := shared.NewPagination(filter.Page, filter.PerPage, len(all))
	start := min(page.Offset(), len(all))
	end := min(start+page.PerPage, len(all))
	return all[start:end], len(all), nil
}

func (m *memoryRepo) SummarizeSources(_ context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		posted bool
		reason string
	}
	rows := map[key]*SummaryRow{}
	var order []key
	ids := make([]int64, 0, len(m.state.sources))
	for id := range m.state.sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		src := m.state.sources[id]
		if src.PerformedAt.Before(filter.From) || src.PerformedAt.After(filter.To) {
			continue
		}
		if filter.Branch != "" && src.BranchCode != filter.Branch {
			continue
		}
		k := key{src.Posted, src.Reason}
		row, ok := rows[k]
		if !ok {
			row = &SummaryRow{Posted: src.Posted, Reason: src.Reason, Amount: decimal.Zero}
			rows[k] = row
			order = append(order, k)
		}
		row.Count++
		row.Amount = row.Amount.Add(src.TotalAmount)
	}
	out := make([]SummaryRow, 0, len(order))
	for _, k := range order {
		out = append(out, *rows[k])
	}
	return out, nil
}

func (m *memoryRepo) InsertRun(_ context.Context, run BatchRun) (BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextID++
	run.ID = m.state.nextID
	m.state.runs = append(m.state.runs, run)
	return run, nil
}

func (m *memoryRepo) FinishRun(_ context.Context, run BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.runs {
		if m.state.runs[i].JobID == run.JobID {
			m.state.runs[i] = run
			return nil
		}
	}
	return ErrRunNotFound
}

func (m *memoryRepo) ListRuns(_ context.Context, limit int) ([]BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.state.runs)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) GetRun(_ context.Context, jobID string) (BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.state.runs {
		if run.JobID == jobID {
			return run, nil
		}
	}
	return BatchRun{}, ErrRunNotFound
}

// memoryTx runs with repo.mu held.
type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) st() *memState { return &t.repo.state }

func (t *memoryTx) GetSourceForUpdate(_ context.Context, id int64) (SourceTransaction, error) {
	src, ok := t.st().sources[id]
	if !ok {
		return SourceTransaction{}, ErrSourceNotFound
	}
	return src, nil
}

func (t *memoryTx) BranchExists(_ context.Context, code string) (bool, error) {
	return t.st().branches[code], nil
}

func (t *memoryTx) findActive(match func(Voucher) bool) (Voucher, bool, error) {
	var ids []int64
	for id, v := range t.st().vouchers {
		if v.Status == StatusCompleted && match(v) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Voucher{}, false, nil
	}
	slices.Sort(ids)
	return t.st().vouchers[ids[0]], true, nil
}

func (t *memoryTx) FindActiveBySource(_ context.Context, sourceID int64) (Voucher, bool, error) {
	return t.findActive(func(v Voucher) bool { return v.Reference.SourceID == sourceID })
}

func (t *memoryTx) FindActiveByInvoice(_ context.Context, voucherType VoucherType, invoice string) (Voucher, bool, error) {
	return t.findActive(func(v Voucher) bool { return v.Type == voucherType && v.Reference.InvoiceNumber == invoice })
}

func (t *memoryTx) FindActiveByNotes(_ context.Context, fragment string) (Voucher, bool, error) {
	return t.findActive(func(v Voucher) bool {
		return strings.Contains(strings.ToLower(v.Notes), strings.ToLower(fragment))
	})
}

func (t *memoryTx) MarkSourcePosted(_ context.Context, sourceID, voucherID int64, at time.Time) error {
	src, ok := t.st().sources[sourceID]
	if !ok {
		return ErrSourceNotFound
	}
	id := voucherID
	src.Posted = true
	src.VoucherID = &id
	src.PostedAt = &at
	t.st().sources[sourceID] = src
	return nil
}

func (t *memoryTx) ClearSourcePosted(_ context.Context, sourceID, voucherID int64) error {
	for id, src := range t.st().sources {
		own := id == sourceID && (src.VoucherID == nil || *src.VoucherID == voucherID)
		healed := src.VoucherID != nil && *src.VoucherID == voucherID
		if !own && !healed {
			continue
		}
		src.Posted = false
		src.VoucherID = nil
		src.PostedAt = nil
		t.st().sources[id] = src
	}
	return nil
}

func (t *memoryTx) InsertVoucher(_ context.Context, v Voucher) (Voucher, error) {
	if len(t.repo.insertErrs) > 0 {
		err := t.repo.insertErrs[0]
		t.repo.insertErrs = t.repo.insertErrs[1:]
		if err != nil {
			return Voucher{}, err
		}
	}
	for _, existing := range t.st().vouchers {
		if existing.Status == StatusCompleted && existing.Reference.SourceID == v.Reference.SourceID {
			return Voucher{}, ErrAlreadyPosted
		}
		if existing.DocumentNumber == v.DocumentNumber {
			return Voucher{}, shared.ErrConflict
		}
	}
	t.st().nextID++
	v.ID = t.st().nextID
	v.CreatedAt = v.PaymentDate
	v.UpdatedAt = v.PaymentDate
	t.st().vouchers[v.ID] = v
	return v, nil
}

func (t *memoryTx) InsertDetails(_ context.Context, voucherID int64, details []DetailLine) ([]DetailLine, error) {
	out := make([]DetailLine, 0, len(details))
	for _, dl := range details {
		t.st().nextID++
		dl.ID = t.st().nextID
		dl.VoucherID = voucherID
		out = append(out, dl)
	}
	v := t.st().vouchers[voucherID]
	v.Details = out
	t.st().vouchers[voucherID] = v
	return out, nil
}

func (t *memoryTx) InsertJournalLines(_ context.Context, voucherID int64, lines []journal.Line) ([]journal.Line, error) {
	out := make([]journal.Line, 0, len(lines))
	for _, l := range lines {
		if l.ReversedFrom != nil {
			for _, existing := range t.st().lines {
				if existing.ReversedFrom != nil && *existing.ReversedFrom == *l.ReversedFrom {
					return nil, journal.ErrAlreadyReversed
				}
			}
		}
		t.st().nextID++
		l.ID = t.st().nextID
		l.DocumentID = voucherID
		t.st().lines = append(t.st().lines, l)
		out = append(out, l)
	}
	return out, nil
}

func (t *memoryTx) GetVoucherForUpdate(_ context.Context, id int64) (Voucher, error) {
	v, ok := t.st().vouchers[id]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (t *memoryTx) ListJournalLines(_ context.Context, voucherID int64) ([]journal.Line, error) {
	var out []journal.Line
	for _, l := range t.st().lines {
		if l.DocumentID == voucherID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memoryTx) CancelVoucher(_ context.Context, id, actorID int64, reason string, at time.Time) error {
	v, ok := t.st().vouchers[id]
	if !ok || v.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	v.Status = StatusCancelled
	v.CancelledBy = &actorID
	v.CancelledAt = &at
	v.CancelReason = reason
	t.st().vouchers[id] = v
	return nil
}

func (t *memoryTx) ApplyDebtPayment(_ context.Context, invoices []string, amount decimal.Decimal, _ time.Time) error {
	for _, inv := range invoices {
		t.st().debts[inv] = t.st().debts[inv].Add(amount)
	}
	return nil
}

type chartSource []accounts.Account

func (c chartSource) ListAccounts(context.Context) ([]accounts.Account, error) {
	return c, nil
}

func testChart(withTax bool) chartSource {
	chart := chartSource{
		{Code: "11101", Name: "Cash"},
		{Code: "11103", Name: "Bank deposits"},
		{Code: "11301", Name: "Trade receivables"},
		{Code: "21104", Name: "Customer deposits"},
		{Code: "44101", Name: "Sales revenue"},
		{Code: "44102", Name: "Service revenue"},
		{Code: "44103", Name: "Sales returns"},
	}
	if withTax {
		chart = append(chart, accounts.Account{Code: "21601", Name: "Output VAT"})
	}
	return chart
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type fixture struct {
	repo      *memoryRepo
	service   *Service
	publisher *recordingPublisher
	audit     *recordingAudit
	redis     *miniredis.Miniredis
	client    *redis.Client
	now       time.Time
}

type fixtureOption func(*ServiceConfig, *chartSource)

func withoutTaxAccount() fixtureOption {
	return func(_ *ServiceConfig, c *chartSource) { *c = testChart(false) }
}

func withStrictTax() fixtureOption {
	return func(cfg *ServiceConfig, _ *chartSource) { cfg.TaxPolicy = journal.TaxStrict }
}

func withLegacyNotes() fixtureOption {
	return func(cfg *ServiceConfig, _ *chartSource) { cfg.LegacyNotes = true }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := ServiceConfig{Logger: discardLogger(), Retry: shared.Backoff{Attempts: 3}}
	chart := testChart(true)
	for _, opt := range opts {
		opt(&cfg, &chart)
	}
	table, err := accounts.DefaultTable()
	require.NoError(t, err)
	resolver := accounts.NewResolver(table, accounts.NewCachedChart(chart, time.Minute))

	f := &fixture{
		repo:      newMemoryRepo(),
		publisher: &recordingPublisher{},
		audit:     &recordingAudit{},
		redis:     mr,
		client:    client,
		now:       time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.repo, resolver, numbering.NewRedisAllocator(client), f.audit, f.publisher, cfg)
	f.service.WithNow(func() time.Time { return f.now })
	return f
}

func debtPaymentSource(id int64) SourceTransaction {
	return SourceTransaction{
		ID:            id,
		BranchCode:    "HQ",
		Direction:     DirectionIn,
		Reason:        ReasonDebtPayment,
		PaymentMethod: "transfer",
		TotalAmount:   d("5000"),
		InvoiceNumber: "PAY-0001",
		DebtInvoices:  []string{"INV-0001"},
		Customer:      CustomerInfo{Prefix: "Mr.", FirstName: "Somchai", LastName: "Jaidee"},
		PerformedAt:   time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC),
	}
}

func cashSaleSource(id int64, invoice string, amount string) SourceTransaction {
	return SourceTransaction{
		ID:            id,
		BranchCode:    "HQ",
		Direction:     DirectionOut,
		Reason:        ReasonPOSSale,
		PaymentMethod: "cash",
		TotalAmount:   d(amount),
		InvoiceNumber: invoice,
		PerformedAt:   time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
	}
}

var errBoom = errors.New("boom")
