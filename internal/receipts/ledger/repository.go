package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/journal"
)

// Repository reads journal_lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errNotReady = errors.New("ledger repository not initialised")

// OpeningBalance implements Store.
func (r *Repository) OpeningBalance(ctx context.Context, q Query) (decimal.Decimal, error) {
	if r == nil || r.pool == nil {
		return decimal.Zero, errNotReady
	}
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(debit - credit), 0)
FROM journal_lines
WHERE account_code=$1 AND transaction_date < $2 AND ($3 = '' OR branch_code = $3)`,
		q.AccountCode, q.From, q.Branch).Scan(&balance)
	return balance, err
}

// Lines implements Store.
func (r *Repository) Lines(ctx context.Context, q Query) ([]journal.Line, error) {
	if r == nil || r.pool == nil {
		return nil, errNotReady
	}
	rows, err := r.pool.Query(ctx, `SELECT id, document_id, document_type, document_number, transaction_date, account_code, account_name, debit, credit, description, branch_code, is_reversed, reversed_from
FROM journal_lines
WHERE account_code=$1
  AND ($2 = '' OR branch_code = $2)
  AND transaction_date >= COALESCE($3::timestamptz, '-infinity')
  AND transaction_date <= COALESCE($4::timestamptz, 'infinity')
ORDER BY transaction_date, id`, q.AccountCode, q.Branch, nullTime(q.From), nullTime(q.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []journal.Line
	for rows.Next() {
		var l journal.Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.DocumentType, &l.DocumentNumber, &l.TransactionDate, &l.AccountCode,
			&l.AccountName, &l.Debit, &l.Credit, &l.Description, &l.BranchCode, &l.IsReversed, &l.ReversedFrom); err != nil {
			return nil, err
		}
		l.Period = journal.PeriodOf(l.TransactionDate)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Balances implements Store.
func (r *Repository) Balances(ctx context.Context, from, to time.Time, branch string) ([]AccountBalance, error) {
	if r == nil || r.pool == nil {
		return nil, errNotReady
	}
	rows, err := r.pool.Query(ctx, `SELECT jl.account_code, COALESCE(coa.name, MAX(jl.account_name)), COALESCE(coa.category, ''),
       COALESCE(SUM(jl.debit - jl.credit) FILTER (WHERE jl.transaction_date < $1), 0),
       COALESCE(SUM(jl.debit) FILTER (WHERE jl.transaction_date >= $1), 0),
       COALESCE(SUM(jl.credit) FILTER (WHERE jl.transaction_date >= $1), 0)
FROM journal_lines jl
LEFT JOIN chart_of_accounts coa ON coa.code = jl.account_code
WHERE jl.transaction_date <= $2 AND ($3 = '' OR jl.branch_code = $3)
GROUP BY jl.account_code, coa.name, coa.category
ORDER BY jl.account_code`, from, to, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Code, &b.Name, &b.Category, &b.Opening, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
