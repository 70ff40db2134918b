// Package numbering allocates receipt document numbers from atomic counters.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAllocate wraps every allocation failure. Callers must abort the posting.
var ErrAllocate = errors.New("numbering: allocate document number")

var prefixes = map[string]string{
	"cash_sale":    "RV",
	"credit_sale":  "RC",
	"debt_payment": "RP",
	"deposit":      "RD",
	"return":       "RR",
	"service":      "RS",
	"installment":  "RI",
}

// Prefix returns the document prefix for a voucher type.
func Prefix(voucherType string) string {
	if p, ok := prefixes[voucherType]; ok {
		return p
	}
	return "RV"
}

// Scope identifies one counter.
type Scope struct {
	Prefix string
	Branch string
	Year   int
	Month  int
}

// NewScope builds the scope for a voucher type, branch and date.
func NewScope(voucherType, branch string, at time.Time) Scope {
	return Scope{Prefix: Prefix(voucherType), Branch: branch, Year: at.Year(), Month: int(at.Month())}
}

func (s Scope) yymm() string {
	return fmt.Sprintf("%02d%02d", s.Year%100, s.Month)
}

// Key is the counter key: prefix + branch + YY + MM.
func (s Scope) Key() string {
	return s.Prefix + s.Branch + s.yymm()
}

// Format renders prefix-branch-YYMM followed by the zero-padded sequence,
// e.g. RV-HQ-26030001. The branch keeps numbers unique across branches.
func Format(s Scope, seq int64) string {
	if s.Branch == "" {
		return fmt.Sprintf("%s-%s%04d", s.Prefix, s.yymm(), seq)
	}
	return fmt.Sprintf("%s-%s-%s%04d", s.Prefix, s.Branch, s.yymm(), seq)
}

// Allocator hands out strictly increasing sequences per scope.
type Allocator interface {
	Next(ctx context.Context, scope Scope) (int64, error)
}

// Allocate returns the formatted next number for scope.
func Allocate(ctx context.Context, a Allocator, scope Scope) (string, error) {
	if a == nil {
		return "", fmt.Errorf("%w: allocator not configured", ErrAllocate)
	}
	seq, err := a.Next(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrAllocate, scope.Key(), err)
	}
	if seq <= 0 {
		return "", fmt.Errorf("%w: %s: non-positive sequence %d", ErrAllocate, scope.Key(), seq)
	}
	return Format(scope, seq), nil
}
