package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

const (
	constraintActiveSource   = "uq_receipt_vouchers_source_active"
	constraintDocumentNumber = "uq_receipt_vouchers_document_number"
	constraintReversedFrom   = "uq_journal_lines_reversed_from"
	pgUniqueViolation        = "23505"
	errRepositoryNotReady    = "receipts repository not initialised"
	voucherColumns           = `id, document_number, voucher_type, branch_code, payment_date, debit_account_code, debit_account_name, credit_account_code, credit_account_name, received_from, payment_method, bank_account, total_amount, tax_amount, notes, status, source_id, invoice_number, original_invoice, debt_invoices, contract_number, customer_type, auto_detected, COALESCE(created_by, 0), created_at, updated_at, cancelled_by, cancelled_at, cancel_reason`
	sourceColumns            = `id, branch_code, direction, reason, transaction_type, payment_method, payment_received, bank_account, total_amount, net_amount, tax_amount, invoice_number, order_id, contract_number, original_invoice, debt_invoices, customer_type, customer, items, performed_at, COALESCE(performed_by, 0), has_receipt_voucher, receipt_voucher_id, receipt_voucher_created_at`
	journalColumns           = `id, document_id, document_type, document_number, transaction_date, account_code, account_name, debit, credit, description, branch_code, period_year, period_month, period_quarter, is_reversed, reversed_from, COALESCE(created_by, 0), created_at`
	batchRunColumns          = `id, job_id, status, params, total, processed, success_count, failed_count, skipped_count, errors, message, started_at, completed_at, duration_ms, COALESCE(created_by, 0)`
	defaultPendingQueryLimit = 100
)

// Repository persists vouchers and reads source transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations Create and Cancel run inside one transaction.
type TxRepository interface {
	GuardStore
	GetSourceForUpdate(ctx context.Context, id int64) (SourceTransaction, error)
	BranchExists(ctx context.Context, code string) (bool, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	InsertDetails(ctx context.Context, voucherID int64, details []DetailLine) ([]DetailLine, error)
	InsertJournalLines(ctx context.Context, voucherID int64, lines []journal.Line) ([]journal.Line, error)
	GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error)
	ListJournalLines(ctx context.Context, voucherID int64) ([]journal.Line, error)
	CancelVoucher(ctx context.Context, id, actorID int64, reason string, at time.Time) error
	// ClearSourcePosted releases the voucher's own source and every source
	// healed onto the voucher by the guard.
	ClearSourcePosted(ctx context.Context, sourceID, voucherID int64) error
	ApplyDebtPayment(ctx context.Context, invoices []string, amount decimal.Decimal, at time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepositoryNotReady)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// pendingWhere pairs each reason with the movement direction its voucher type
// expects, so a return recorded as OUT is not picked up as pending.
func pendingWhere(filter PendingFilter) (string, []any) {
	reasons := nonNilStrings(filter.Reasons)
	directions := make([]string, len(reasons))
	for i, reason := range reasons {
		directions[i] = string(ReasonDirection(reason))
	}
	return `NOT has_receipt_voucher
  AND ($1 = '' OR branch_code = $1)
  AND (cardinality($2::text[]) = 0 OR (reason, direction) IN (SELECT * FROM unnest($2::text[], $3::text[])))
  AND performed_at >= COALESCE($4::timestamptz, '-infinity')
  AND performed_at <= COALESCE($5::timestamptz, 'infinity')`,
		[]any{filter.Branch, reasons, directions, filter.From, filter.To}
}

// ListPending returns unposted sources, oldest first unless NewestFirst.
func (r *Repository) ListPending(ctx context.Context, filter PendingFilter) ([]SourceTransaction, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepositoryNotReady)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPendingQueryLimit
	}
	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	where, args := pendingWhere(filter)
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM source_transactions
WHERE %s
ORDER BY performed_at %s, id %s
LIMIT $6`, sourceColumns, where, order, order), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceTransaction
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// CountPending counts unposted sources matching the filter, ignoring Limit.
func (r *Repository) CountPending(ctx context.Context, filter PendingFilter) (int, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New(errRepositoryNotReady)
	}
	where, args := pendingWhere(filter)
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM source_transactions WHERE `+where, args...).Scan(&count)
	return count, err
}

// GetVoucher loads a voucher with details and journal lines.
func (r *Repository) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	if r == nil || r.pool == nil {
		return Voucher{}, errors.New(errRepositoryNotReady)
	}
	v, err := scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM receipt_vouchers WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return r.withChildren(ctx, v)
}

// GetVoucherBySource loads the active voucher of a source, or the latest
// cancelled one when none is active.
func (r *Repository) GetVoucherBySource(ctx context.Context, sourceID int64) (Voucher, error) {
	if r == nil || r.pool == nil {
		return Voucher{}, errors.New(errRepositoryNotReady)
	}
	v, err := scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM receipt_vouchers
WHERE source_id=$1
ORDER BY (status = 'completed') DESC, id DESC
LIMIT 1`, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return r.withChildren(ctx, v)
}

func (r *Repository) withChildren(ctx context.Context, v Voucher) (Voucher, error) {
	details, err := queryDetails(ctx, r.pool, v.ID)
	if err != nil {
		return Voucher{}, err
	}
	lines, err := queryJournalLines(ctx, r.pool, v.ID)
	if err != nil {
		return Voucher{}, err
	}
	v.Details = details
	v.Lines = lines
	return v, nil
}

// ListVouchers returns one page of vouchers (without children) and the total count.
func (r *Repository) ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, errors.New(errRepositoryNotReady)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+voucherColumns+`, COUNT(*) OVER() FROM receipt_vouchers
WHERE ($1 = '' OR branch_code = $1)
  AND ($2 = '' OR voucher_type = $2)
  AND ($3 = '' OR status = $3)
  AND payment_date >= COALESCE($4::timestamptz, '-infinity')
  AND payment_date <= COALESCE($5::timestamptz, 'infinity')
ORDER BY payment_date DESC, id DESC
LIMIT $6 OFFSET $7`, filter.Branch, string(filter.Type), string(filter.Status), filter.From, filter.To, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var (
		out   []Voucher
		total int
	)
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(append(voucherDest(&v), &total)...); err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// SummarizeSources aggregates sources by posted flag and reason.
func (r *Repository) SummarizeSources(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepositoryNotReady)
	}
	rows, err := r.pool.Query(ctx, `SELECT has_receipt_voucher, reason, COUNT(*), COALESCE(SUM(COALESCE(net_amount, total_amount)), 0)
FROM source_transactions
WHERE performed_at BETWEEN $1 AND $2
  AND ($3 = '' OR branch_code = $3)
  AND (cardinality($4::text[]) = 0 OR reason = ANY($4::text[]))
GROUP BY has_receipt_voucher, reason
ORDER BY reason, has_receipt_voucher`, filter.From, filter.To, filter.Branch, nonNilStrings(filter.Reasons))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SummaryRow
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.Posted, &row.Reason, &row.Count, &row.Amount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListActiveBranches returns the codes of active branches.
func (r *Repository) ListActiveBranches(ctx context.Context) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepositoryNotReady)
	}
	rows, err := r.pool.Query(ctx, `SELECT code FROM branches WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// InsertRun stores a new batch run log.
func (r *Repository) InsertRun(ctx context.Context, run BatchRun) (BatchRun, error) {
	if r == nil || r.pool == nil {
		return BatchRun{}, errors.New(errRepositoryNotReady)
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO batch_runs (job_id, status, params, total, processed, success_count, failed_count, skipped_count, errors, message, started_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		run.JobID, string(run.Status), run.Filter, run.Total, run.Processed, run.Success, run.Failed, run.Skipped,
		nonNilErrors(run.Errors), run.Message, run.StartedAt, nullInt(run.CreatedBy)).Scan(&run.ID)
	return run, err
}

// FinishRun writes the final counters and status of a run.
func (r *Repository) FinishRun(ctx context.Context, run BatchRun) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepositoryNotReady)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE batch_runs
SET status=$2, total=$3, processed=$4, success_count=$5, failed_count=$6, skipped_count=$7, errors=$8, message=$9, completed_at=$10, duration_ms=$11
WHERE job_id=$1`,
		run.JobID, string(run.Status), run.Total, run.Processed, run.Success, run.Failed, run.Skipped,
		nonNilErrors(run.Errors), run.Message, run.CompletedAt, run.DurationMS)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns returns the latest runs first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepositoryNotReady)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+batchRunColumns+` FROM batch_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRun loads a run by job id.
func (r *Repository) GetRun(ctx context.Context, jobID string) (BatchRun, error) {
	if r == nil || r.pool == nil {
		return BatchRun{}, errors.New(errRepositoryNotReady)
	}
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+batchRunColumns+` FROM batch_runs WHERE job_id=$1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchRun{}, ErrRunNotFound
	}
	return run, err
}

func (r *txRepository) GetSourceForUpdate(ctx context.Context, id int64) (SourceTransaction, error) {
	src, err := scanSource(r.tx.QueryRow(ctx, `SELECT `+sourceColumns+` FROM source_transactions WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SourceTransaction{}, fmt.Errorf("%w: %d", ErrSourceNotFound, id)
	}
	return src, err
}

func (r *txRepository) BranchExists(ctx context.Context, code string) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE code=$1 AND is_active)`, code).Scan(&ok)
	return ok, err
}

func (r *txRepository) findActive(ctx context.Context, where string, args ...any) (Voucher, bool, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM receipt_vouchers WHERE status='completed' AND `+where+` ORDER BY id LIMIT 1`, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, false, nil
		}
		return Voucher{}, false, err
	}
	return v, true, nil
}

func (r *txRepository) FindActiveBySource(ctx context.Context, sourceID int64) (Voucher, bool, error) {
	return r.findActive(ctx, `source_id=$1`, sourceID)
}

func (r *txRepository) FindActiveByInvoice(ctx context.Context, voucherType VoucherType, invoice string) (Voucher, bool, error) {
	return r.findActive(ctx, `voucher_type=$1 AND invoice_number=$2`, string(voucherType), invoice)
}

func (r *txRepository) FindActiveByNotes(ctx context.Context, fragment string) (Voucher, bool, error) {
	return r.findActive(ctx, `notes ILIKE '%' || $1 || '%'`, escapeLike(fragment))
}

func (r *txRepository) MarkSourcePosted(ctx context.Context, sourceID, voucherID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE source_transactions
SET has_receipt_voucher=TRUE, receipt_voucher_id=$2, receipt_voucher_created_at=$3
WHERE id=$1`, sourceID, voucherID, at)
	return err
}

func (r *txRepository) ClearSourcePosted(ctx context.Context, sourceID, voucherID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE source_transactions
SET has_receipt_voucher=FALSE, receipt_voucher_id=NULL, receipt_voucher_created_at=NULL
WHERE (id=$1 AND (receipt_voucher_id IS NULL OR receipt_voucher_id=$2)) OR receipt_voucher_id=$2`, sourceID, voucherID)
	return err
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO receipt_vouchers (document_number, voucher_type, branch_code, payment_date, debit_account_code, debit_account_name, credit_account_code, credit_account_name, received_from, payment_method, bank_account, total_amount, tax_amount, notes, status, source_id, invoice_number, original_invoice, debt_invoices, contract_number, customer_type, auto_detected, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		v.DocumentNumber, string(v.Type), v.BranchCode, v.PaymentDate,
		v.DebitAccount.Code, v.DebitAccount.Name, v.CreditAccount.Code, v.CreditAccount.Name,
		v.ReceivedFrom, v.PaymentMethod, v.BankAccount, v.TotalAmount, v.TaxAmount, v.Notes, string(v.Status),
		v.Reference.SourceID, v.Reference.InvoiceNumber, v.Reference.OriginalInvoice, nonNilStrings(v.Reference.DebtInvoices),
		v.Reference.ContractNumber, v.CustomerType, v.AutoDetected, nullInt(v.CreatedBy)).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return Voucher{}, translateUnique(err)
	}
	return v, nil
}

func (r *txRepository) InsertDetails(ctx context.Context, voucherID int64, details []DetailLine) ([]DetailLine, error) {
	out := make([]DetailLine, 0, len(details))
	for _, d := range details {
		d.VoucherID = voucherID
		if err := r.tx.QueryRow(ctx, `INSERT INTO receipt_voucher_details (voucher_id, description, sku, imei, unit, quantity, unit_price, amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, voucherID, d.Description, d.SKU, d.IMEI, d.Unit, d.Quantity, d.UnitPrice, d.Amount).Scan(&d.ID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, voucherID int64, lines []journal.Line) ([]journal.Line, error) {
	out := make([]journal.Line, 0, len(lines))
	for _, l := range lines {
		l.DocumentID = voucherID
		if err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (document_id, document_type, document_number, transaction_date, account_code, account_name, debit, credit, description, branch_code, period_year, period_month, period_quarter, is_reversed, reversed_from, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id, created_at`,
			voucherID, l.DocumentType, l.DocumentNumber, l.TransactionDate, l.AccountCode, l.AccountName, l.Debit, l.Credit,
			l.Description, l.BranchCode, l.Period.Year, l.Period.Month, l.Period.Quarter, l.IsReversed, l.ReversedFrom, nullInt(l.CreatedBy)).
			Scan(&l.ID, &l.CreatedAt); err != nil {
			return nil, translateUnique(err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM receipt_vouchers WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, fmt.Errorf("%w: %d", ErrVoucherNotFound, id)
	}
	return v, err
}

func (r *txRepository) ListJournalLines(ctx context.Context, voucherID int64) ([]journal.Line, error) {
	return queryJournalLines(ctx, r.tx, voucherID)
}

func (r *txRepository) CancelVoucher(ctx context.Context, id, actorID int64, reason string, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE receipt_vouchers
SET status='cancelled', cancelled_by=$2, cancelled_at=$3, cancel_reason=$4, updated_at=NOW()
WHERE id=$1 AND status='completed'`, id, nullInt(actorID), at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCancelled
	}
	return nil
}

func (r *txRepository) ApplyDebtPayment(ctx context.Context, invoices []string, amount decimal.Decimal, at time.Time) error {
	for _, invoice := range invoices {
		if strings.TrimSpace(invoice) == "" {
			continue
		}
		if _, err := r.tx.Exec(ctx, `UPDATE source_transactions
SET paid_amount = paid_amount + $2, remaining_amount = remaining_amount - $2, last_payment_at = $3
WHERE invoice_number=$1`, invoice, amount, at); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryDetails(ctx context.Context, q querier, voucherID int64) ([]DetailLine, error) {
	rows, err := q.Query(ctx, `SELECT id, voucher_id, description, sku, imei, unit, quantity, unit_price, amount
FROM receipt_voucher_details WHERE voucher_id=$1 ORDER BY id`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DetailLine
	for rows.Next() {
		var d DetailLine
		if err := rows.Scan(&d.ID, &d.VoucherID, &d.Description, &d.SKU, &d.IMEI, &d.Unit, &d.Quantity, &d.UnitPrice, &d.Amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func queryJournalLines(ctx context.Context, q querier, voucherID int64) ([]journal.Line, error) {
	rows, err := q.Query(ctx, `SELECT `+journalColumns+` FROM journal_lines
WHERE document_type=$1 AND document_id=$2
ORDER BY id`, journal.DocumentTypeReceipt, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []journal.Line
	for rows.Next() {
		var l journal.Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.DocumentType, &l.DocumentNumber, &l.TransactionDate, &l.AccountCode, &l.AccountName,
			&l.Debit, &l.Credit, &l.Description, &l.BranchCode, &l.Period.Year, &l.Period.Month, &l.Period.Quarter,
			&l.IsReversed, &l.ReversedFrom, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func voucherDest(v *Voucher) []any {
	return []any{
		&v.ID, &v.DocumentNumber, &v.Type, &v.BranchCode, &v.PaymentDate,
		&v.DebitAccount.Code, &v.DebitAccount.Name, &v.CreditAccount.Code, &v.CreditAccount.Name,
		&v.ReceivedFrom, &v.PaymentMethod, &v.BankAccount, &v.TotalAmount, &v.TaxAmount, &v.Notes, &v.Status,
		&v.Reference.SourceID, &v.Reference.InvoiceNumber, &v.Reference.OriginalInvoice, &v.Reference.DebtInvoices,
		&v.Reference.ContractNumber, &v.CustomerType, &v.AutoDetected, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
		&v.CancelledBy, &v.CancelledAt, &v.CancelReason,
	}
}

func scanVoucher(row rowScanner) (Voucher, error) {
	var v Voucher
	if err := row.Scan(voucherDest(&v)...); err != nil {
		return Voucher{}, err
	}
	return v, nil
}

func scanSource(row rowScanner) (SourceTransaction, error) {
	var src SourceTransaction
	err := row.Scan(&src.ID, &src.BranchCode, &src.Direction, &src.Reason, &src.TransactionType, &src.PaymentMethod,
		&src.PaymentReceived, &src.BankAccount, &src.TotalAmount, &src.NetAmount, &src.TaxAmount, &src.InvoiceNumber,
		&src.OrderID, &src.ContractNumber, &src.OriginalInvoice, &src.DebtInvoices, &src.CustomerType, &src.Customer,
		&src.Items, &src.PerformedAt, &src.PerformedBy, &src.Posted, &src.VoucherID, &src.PostedAt)
	if err != nil {
		return SourceTransaction{}, err
	}
	return src, nil
}

func scanRun(row rowScanner) (BatchRun, error) {
	var run BatchRun
	err := row.Scan(&run.ID, &run.JobID, &run.Status, &run.Filter, &run.Total, &run.Processed, &run.Success, &run.Failed,
		&run.Skipped, &run.Errors, &run.Message, &run.StartedAt, &run.CompletedAt, &run.DurationMS, &run.CreatedBy)
	if err != nil {
		return BatchRun{}, err
	}
	return run, nil
}

// translateUnique maps unique violations on known constraints to domain errors.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintActiveSource:
		return ErrAlreadyPosted
	case constraintReversedFrom:
		return journal.ErrAlreadyReversed
	case constraintDocumentNumber:
		return fmt.Errorf("%w: document number already used", shared.ErrConflict)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilErrors(e []ItemError) []ItemError {
	if e == nil {
		return []ItemError{}
	}
	return e
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
