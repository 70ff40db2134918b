package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads chart_of_accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAccounts returns active chart entries ordered by code.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("accounts repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT code, name, category, COALESCE(parent_code, '') FROM chart_of_accounts WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Category, &a.ParentCode); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
