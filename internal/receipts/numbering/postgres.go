package numbering

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAllocator increments document_counters with a single upsert. It runs on
// the pool, outside any voucher transaction, so the counter row lock is held only
// for the statement.
type PostgresAllocator struct {
	pool *pgxpool.Pool
}

// NewPostgresAllocator constructs the allocator.
func NewPostgresAllocator(pool *pgxpool.Pool) *PostgresAllocator {
	return &PostgresAllocator{pool: pool}
}

const upsertCounterSQL = `INSERT INTO document_counters (scope_key, prefix, branch_code, year, month, seq, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, NOW())
ON CONFLICT (scope_key) DO UPDATE SET seq = document_counters.seq + 1, updated_at = NOW()
RETURNING seq`

// Next implements Allocator.
func (a *PostgresAllocator) Next(ctx context.Context, scope Scope) (int64, error) {
	if a == nil || a.pool == nil {
		return 0, errors.New("numbering: postgres allocator not initialised")
	}
	var seq int64
	err := a.pool.QueryRow(ctx, upsertCounterSQL, scope.Key(), scope.Prefix, scope.Branch, scope.Year, scope.Month).Scan(&seq)
	return seq, err
}
