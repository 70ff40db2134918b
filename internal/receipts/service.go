package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/numbering"
	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPending(ctx context.Context, filter PendingFilter) ([]SourceTransaction, error)
	CountPending(ctx context.Context, filter PendingFilter) (int, error)
	GetVoucher(ctx context.Context, id int64) (Voucher, error)
	GetVoucherBySource(ctx context.Context, sourceID int64) (Voucher, error)
	ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, int, error)
	SummarizeSources(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AccountResolver maps voucher categories to ledger accounts.
type AccountResolver interface {
	Resolve(ctx context.Context, category, paymentMethod, direction string) (accounts.Resolution, error)
	TaxAccount(ctx context.Context) (accounts.Account, bool, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	TaxPolicy   journal.TaxPolicy
	LegacyNotes bool
	Retry       shared.Backoff
	Logger      *slog.Logger
}

// Service posts and cancels receipt vouchers.
type Service struct {
	repo      RepositoryPort
	resolver  AccountResolver
	numbers   numbering.Allocator
	audit     AuditPort
	publisher Publisher
	guard     Guard
	taxPolicy journal.TaxPolicy
	retry     shared.Backoff
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. A nil publisher drops events; a nil audit skips audit records.
func NewService(repo RepositoryPort, resolver AccountResolver, numbers numbering.Allocator, audit AuditPort, publisher Publisher, cfg ServiceConfig) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.TaxPolicy
	if policy == "" {
		policy = journal.TaxLenient
	}
	return &Service{
		repo:      repo,
		resolver:  resolver,
		numbers:   numbers,
		audit:     audit,
		publisher: publisher,
		guard:     Guard{LegacyNotes: cfg.LegacyNotes},
		taxPolicy: policy,
		retry:     cfg.Retry,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create posts a voucher for one source transaction. A source that already has
// an active voucher yields PostAlreadyExists with that voucher and no error.
func (s *Service) Create(ctx context.Context, input CreateInput) (PostResult, error) {
	if input.SourceID <= 0 {
		return PostResult{}, fmt.Errorf("%w: source id required", ErrSourceNotFound)
	}
	if input.Type != "" && !input.Type.Valid() {
		return PostResult{}, fmt.Errorf("%w: %q", ErrInvalidType, input.Type)
	}
	var result PostResult
	err := s.retry.Retry(ctx, IsTransient, func(ctx context.Context) error {
		var err error
		result, err = s.createOnce(ctx, input)
		return err
	})
	if errors.Is(err, ErrAlreadyPosted) {
		existing, getErr := s.repo.GetVoucherBySource(ctx, input.SourceID)
		if getErr != nil {
			return PostResult{}, fmt.Errorf("%w: %w", err, getErr)
		}
		return PostResult{Status: PostAlreadyExists, Voucher: existing, Strategy: StrategyConstraint}, nil
	}
	if err != nil {
		return PostResult{}, err
	}

	if result.Status == PostCreated {
		v := result.Voucher
		s.logger.Info("receipt voucher created",
			slog.String("document_number", v.DocumentNumber),
			slog.String("type", string(v.Type)),
			slog.String("branch", v.BranchCode),
			slog.Int64("source_id", v.Reference.SourceID),
			slog.String("amount", v.TotalAmount.StringFixed(2)))
		s.publish(ctx, EventVoucherCreated, v.BranchCode,
			fmt.Sprintf("Receipt voucher %s created (%s)", v.DocumentNumber, FormatAmount(v.TotalAmount)), v)
		s.record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "receipt_voucher.create",
			Entity:   "receipt_voucher",
			EntityID: strconv.FormatInt(v.ID, 10),
			Meta: map[string]any{
				"document_number": v.DocumentNumber,
				"source_id":       v.Reference.SourceID,
				"type":            string(v.Type),
				"amount":          v.TotalAmount.StringFixed(2),
			},
		})
	} else if result.Healed {
		s.logger.Warn("source posted flag repaired",
			slog.Int64("source_id", input.SourceID),
			slog.Int64("voucher_id", result.Voucher.ID),
			slog.String("strategy", result.Strategy))
	}
	return result, nil
}

func (s *Service) createOnce(ctx context.Context, input CreateInput) (PostResult, error) {
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		src, err := tx.GetSourceForUpdate(ctx, input.SourceID)
		if err != nil {
			return err
		}
		voucherType := input.Type
		autoDetected := voucherType == ""
		if autoDetected {
			voucherType = DetectType(src)
		}

		hit, err := s.guard.Check(ctx, tx, src, voucherType, now)
		if err != nil {
			return err
		}
		if hit != nil {
			result = PostResult{Status: PostAlreadyExists, Voucher: hit.Voucher, Strategy: hit.Strategy, Healed: hit.Healed}
			return nil
		}

		if src.Direction != voucherType.Direction() {
			return fmt.Errorf("%w: %s source posted as %s", ErrDirectionMismatch, src.Direction, voucherType)
		}
		ok, err := tx.BranchExists(ctx, src.BranchCode)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrBranchNotFound, src.BranchCode)
		}

		method := firstNonEmpty(input.PaymentMethod, src.PaymentMethod, "cash")
		res, err := s.resolver.Resolve(ctx, string(voucherType), method, string(src.Direction))
		if err != nil {
			return err
		}
		amount := PostingAmount(src, voucherType)
		if !amount.IsPositive() {
			return fmt.Errorf("%w: source %d has %s", ErrInvalidAmount, src.ID, amount.StringFixed(2))
		}
		inverted := voucherType == TypeReturn
		tax := decimal.Zero
		var taxAccount *accounts.Account
		if !inverted && src.TaxAmount.IsPositive() {
			tax = src.TaxAmount.Round(2)
			acc, found, err := s.resolver.TaxAccount(ctx)
			if err != nil {
				return err
			}
			if found {
				taxAccount = &acc
			}
		}

		paymentDate := src.PerformedAt
		if paymentDate.IsZero() {
			paymentDate = now
		}
		counterparty := CustomerName(src)
		reference := src.InvoiceNumber
		if inverted && src.OriginalInvoice != "" {
			reference = src.OriginalInvoice
		}
		// Lines are built before the number is allocated so a rejected posting
		// never consumes a sequence.
		lines, err := journal.Post(journal.Draft{
			Date:         paymentDate,
			BranchCode:   src.BranchCode,
			Counterparty: counterparty,
			Reference:    reference,
			Reason:       src.Reason,
			Total:        amount,
			Tax:          tax,
			Debit:        res.Debit,
			Credit:       res.Credit,
			TaxAccount:   taxAccount,
			Inverted:     inverted,
			CreatedBy:    input.ActorID,
		}, s.taxPolicy)
		if err != nil {
			return err
		}
		if taxAccount == nil {
			tax = decimal.Zero
		}
		number, err := numbering.Allocate(ctx, s.numbers, numbering.NewScope(string(voucherType), src.BranchCode, paymentDate))
		if err != nil {
			return err
		}
		for i := range lines {
			lines[i].DocumentNumber = number
		}

		v, err := tx.InsertVoucher(ctx, Voucher{
			DocumentNumber: number,
			Type:           voucherType,
			BranchCode:     src.BranchCode,
			PaymentDate:    paymentDate,
			DebitAccount:   res.Debit,
			CreditAccount:  res.Credit,
			ReceivedFrom:   counterparty,
			PaymentMethod:  method,
			BankAccount:    firstNonEmpty(input.BankAccount, src.BankAccount),
			TotalAmount:    amount,
			TaxAmount:      tax,
			Notes:          Notes(voucherType, src),
			Status:         StatusCompleted,
			Reference: Reference{
				SourceID:        src.ID,
				InvoiceNumber:   src.InvoiceNumber,
				OriginalInvoice: src.OriginalInvoice,
				DebtInvoices:    src.DebtInvoices,
				ContractNumber:  src.ContractNumber,
			},
			CustomerType: firstNonEmpty(src.CustomerType, "individual"),
			AutoDetected: autoDetected,
			CreatedBy:    input.ActorID,
		})
		if err != nil {
			return err
		}
		if v.Details, err = tx.InsertDetails(ctx, v.ID, BuildDetails(src, amount)); err != nil {
			return err
		}
		if v.Lines, err = tx.InsertJournalLines(ctx, v.ID, lines); err != nil {
			return err
		}
		if err := tx.MarkSourcePosted(ctx, src.ID, v.ID, now); err != nil {
			return err
		}
		if voucherType == TypeDebtPayment && len(src.DebtInvoices) > 0 {
			if err := tx.ApplyDebtPayment(ctx, src.DebtInvoices, amount, now); err != nil {
				return err
			}
		}
		result = PostResult{Status: PostCreated, Voucher: v}
		return nil
	})
	return result, err
}

// Get loads a voucher with details and journal lines.
func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.GetVoucher(ctx, id)
}

// GetBySource loads the voucher posted for a source.
func (s *Service) GetBySource(ctx context.Context, sourceID int64) (Voucher, error) {
	return s.repo.GetVoucherBySource(ctx, sourceID)
}

// List returns one page of vouchers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Voucher, shared.Pagination, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidType, filter.Type)
	}
	items, total, err := s.repo.ListVouchers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Cancel marks a voucher cancelled and appends reversal lines. The source
// becomes pending again.
func (s *Service) Cancel(ctx context.Context, input CancelInput) (Voucher, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Voucher{}, ErrReasonRequired
	}
	var cancelled Voucher
	err := s.retry.Retry(ctx, IsTransient, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now()
			v, err := tx.GetVoucherForUpdate(ctx, input.VoucherID)
			if err != nil {
				return err
			}
			if v.Status == StatusCancelled {
				return ErrAlreadyCancelled
			}
			lines, err := tx.ListJournalLines(ctx, v.ID)
			if err != nil {
				return err
			}
			var owned []journal.Line
			for _, l := range lines {
				if !l.IsReversed {
					owned = append(owned, l)
				}
			}
			reversals, err := journal.ReverseAll(owned, reason, now, input.ActorID)
			if err != nil {
				return err
			}
			stored, err := tx.InsertJournalLines(ctx, v.ID, reversals)
			if err != nil {
				return err
			}
			if err := tx.CancelVoucher(ctx, v.ID, input.ActorID, reason, now); err != nil {
				return err
			}
			if err := tx.ClearSourcePosted(ctx, v.Reference.SourceID, v.ID); err != nil {
				return err
			}
			if v.Type == TypeDebtPayment && len(v.Reference.DebtInvoices) > 0 {
				if err := tx.ApplyDebtPayment(ctx, v.Reference.DebtInvoices, v.TotalAmount.Neg(), now); err != nil {
					return err
				}
			}
			actor := input.ActorID
			v.Status = StatusCancelled
			v.CancelledBy = &actor
			v.CancelledAt = &now
			v.CancelReason = reason
			v.Lines = append(lines, stored...)
			cancelled = v
			return nil
		})
	})
	if err != nil {
		return Voucher{}, err
	}
	s.logger.Info("receipt voucher cancelled",
		slog.String("document_number", cancelled.DocumentNumber),
		slog.String("reason", reason))
	s.publish(ctx, EventVoucherCancelled, cancelled.BranchCode,
		fmt.Sprintf("Receipt voucher %s cancelled: %s", cancelled.DocumentNumber, reason), cancelled)
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "receipt_voucher.cancel",
		Entity:   "receipt_voucher",
		EntityID: strconv.FormatInt(cancelled.ID, 10),
		Meta:     map[string]any{"reason": reason, "document_number": cancelled.DocumentNumber},
	})
	return cancelled, nil
}

// RetryFailed posts the given sources again. Sources that already have an
// active voucher are reported as skipped.
func (s *Service) RetryFailed(ctx context.Context, input RetryInput) (RetryResult, error) {
	if len(input.SourceIDs) == 0 {
		return RetryResult{}, fmt.Errorf("%w: no source ids", ErrInvalidFilter)
	}
	out := RetryResult{Total: len(input.SourceIDs)}
	for _, id := range input.SourceIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.Create(ctx, CreateInput{
			SourceID:      id,
			PaymentMethod: input.PaymentMethod,
			BankAccount:   input.BankAccount,
			ActorID:       input.ActorID,
		})
		switch Classify(res, err) {
		case OutcomeSuccess:
			out.Succeeded = append(out.Succeeded, RetryItem{SourceID: id, DocumentNumber: res.Voucher.DocumentNumber, VoucherID: res.Voucher.ID})
		case OutcomeSkipped:
			out.Skipped = append(out.Skipped, RetryItem{SourceID: id, DocumentNumber: res.Voucher.DocumentNumber, VoucherID: res.Voucher.ID, Message: "already has a receipt voucher"})
		default:
			out.Failed = append(out.Failed, RetryItem{SourceID: id, Message: err.Error()})
		}
	}
	s.publish(ctx, EventRetryCompleted, "",
		fmt.Sprintf("Retry finished: %d succeeded, %d skipped, %d failed", len(out.Succeeded), len(out.Skipped), len(out.Failed)), out)
	return out, nil
}

// CheckPending counts unposted sources and samples the newest ones with their
// detected type.
func (s *Service) CheckPending(ctx context.Context, input PendingInput) (PendingReport, error) {
	for _, t := range input.Types {
		if !t.Valid() {
			return PendingReport{}, fmt.Errorf("%w: %q", ErrInvalidType, t)
		}
	}
	filter := PendingFilter{Branch: input.Branch, Reasons: ReasonsFor(input.Types), From: input.From, To: endOfDayPtr(input.To)}
	total, err := s.repo.CountPending(ctx, filter)
	if err != nil {
		return PendingReport{}, err
	}
	filter.Limit = maxPendingSamples * 5
	filter.NewestFirst = true
	sources, err := s.repo.ListPending(ctx, filter)
	if err != nil {
		return PendingReport{}, err
	}
	report := PendingReport{TotalPending: total, Samples: []PendingSample{}}
	for _, src := range sources {
		detected := DetectType(src)
		if !containsType(input.Types, detected) {
			continue
		}
		report.Samples = append(report.Samples, PendingSample{
			SourceID:      src.ID,
			BranchCode:    src.BranchCode,
			Reason:        src.Reason,
			InvoiceNumber: src.InvoiceNumber,
			Amount:        PostingAmount(src, detected),
			DetectedType:  detected,
			PerformedAt:   src.PerformedAt,
		})
		if len(report.Samples) == maxPendingSamples {
			break
		}
	}
	return report, nil
}

// Summary aggregates sources with and without vouchers by reason. To is
// inclusive through the end of its day.
func (s *Service) Summary(ctx context.Context, filter SummaryFilter) (SummaryReport, error) {
	if filter.From.IsZero() || filter.To.IsZero() {
		return SummaryReport{}, fmt.Errorf("%w: from and to required", ErrInvalidFilter)
	}
	if filter.To.Before(filter.From) {
		return SummaryReport{}, fmt.Errorf("%w: to before from", ErrInvalidFilter)
	}
	filter.To = endOfDay(filter.To)
	rows, err := s.repo.SummarizeSources(ctx, filter)
	if err != nil {
		return SummaryReport{}, err
	}
	report := SummaryReport{
		From:    filter.From,
		To:      filter.To,
		Branch:  filter.Branch,
		Posted:  SummaryBucket{Amount: decimal.Zero},
		Pending: SummaryBucket{Amount: decimal.Zero},
	}
	byReason := map[string]*ReasonSummary{}
	var order []string
	for _, row := range rows {
		rs, ok := byReason[row.Reason]
		if !ok {
			rs = &ReasonSummary{Reason: row.Reason, PostedAmount: decimal.Zero, PendingAmount: decimal.Zero}
			byReason[row.Reason] = rs
			order = append(order, row.Reason)
		}
		if row.Posted {
			rs.PostedCount += row.Count
			rs.PostedAmount = rs.PostedAmount.Add(row.Amount)
			report.Posted.Count += row.Count
			report.Posted.Amount = report.Posted.Amount.Add(row.Amount)
		} else {
			rs.PendingCount += row.Count
			rs.PendingAmount = rs.PendingAmount.Add(row.Amount)
			report.Pending.Count += row.Count
			report.Pending.Amount = report.Pending.Amount.Add(row.Amount)
		}
	}
	for _, reason := range order {
		report.ByReason = append(report.ByReason, *byReason[reason])
	}
	report.TotalCount = report.Posted.Count + report.Pending.Count
	report.TotalAmount = report.Posted.Amount.Add(report.Pending.Amount)
	return report, nil
}

func (s *Service) publish(ctx context.Context, eventType, branch, message string, payload any) {
	event := NewEvent(eventType, branch, message, payload, s.now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", slog.String("event", eventType), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

const maxPendingSamples = 20

func containsType(types []VoucherType, t VoucherType) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Millisecond), t.Location())
}

func endOfDayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	end := endOfDay(*t)
	return &end
}
