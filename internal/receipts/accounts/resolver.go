package accounts

import (
	"context"
	"errors"
	"fmt"
)

// Resolver turns a category, payment method and direction into chart accounts.
type Resolver struct {
	table *Table
	chart Chart
}

// NewResolver constructs a Resolver.
func NewResolver(table *Table, chart Chart) *Resolver {
	return &Resolver{table: table, chart: chart}
}

// Table exposes the underlying configuration.
func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve maps to debit and credit accounts. Either leg missing from the chart
// fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, category, paymentMethod, direction string) (Resolution, error) {
	if r == nil || r.table == nil {
		return Resolution{}, errors.New("accounts: resolver not configured")
	}
	legs, err := r.table.Codes(category, paymentMethod, direction)
	if err != nil {
		return Resolution{}, err
	}
	debit, err := r.account(ctx, legs.DebitCode, legs.DebitRole, "debit")
	if err != nil {
		return Resolution{}, err
	}
	credit, err := r.account(ctx, legs.CreditCode, legs.CreditRole, "credit")
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Debit: debit, Credit: credit}, nil
}

// TaxAccount returns the tax-payable account. ok is false when it is not configured
// in the table or absent from the chart.
func (r *Resolver) TaxAccount(ctx context.Context) (Account, bool, error) {
	code := r.table.TaxCode()
	if code == "" {
		return Account{}, false, nil
	}
	acc, ok, err := r.chart.Lookup(ctx, code)
	if err != nil {
		return Account{}, false, fmt.Errorf("accounts: lookup tax account: %w", err)
	}
	return acc, ok, nil
}

// Check reports every configured role whose code is missing from the chart.
func (r *Resolver) Check(ctx context.Context) ([]MissingAccountError, error) {
	var missing []MissingAccountError
	for _, rc := range r.table.RoleCodes() {
		_, ok, err := r.chart.Lookup(ctx, rc[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, MissingAccountError{Role: rc[0], Code: rc[1], Leg: "any"})
		}
	}
	return missing, nil
}

func (r *Resolver) account(ctx context.Context, code, role, leg string) (Account, error) {
	acc, ok, err := r.chart.Lookup(ctx, code)
	if err != nil {
		return Account{}, fmt.Errorf("accounts: lookup %s: %w", code, err)
	}
	if !ok {
		return Account{}, &MissingAccountError{Role: role, Code: code, Leg: leg}
	}
	return acc, nil
}
