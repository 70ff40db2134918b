// Package accounts resolves the debit and credit accounts for a receipt posting.
package accounts

import (
	"errors"
	"fmt"
)

// Account is a chart-of-accounts entry. Vouchers snapshot Code and Name.
type Account struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	ParentCode string `json:"parentCode,omitempty"`
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Debit  Account
	Credit Account
}

var (
	// ErrAccountNotConfigured indicates a leg has no usable chart account.
	ErrAccountNotConfigured = errors.New("accounts: account not configured")
	// ErrUnknownCategory indicates the voucher category has no rule.
	ErrUnknownCategory = errors.New("accounts: unknown category")
	// ErrDirectionMismatch indicates the source direction does not fit the category.
	ErrDirectionMismatch = errors.New("accounts: direction mismatch")
)

// MissingAccountError names the leg that could not be resolved.
type MissingAccountError struct {
	Role string
	Code string
	Leg  string
}

func (e *MissingAccountError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("accounts: %s leg: role %q has no account code", e.Leg, e.Role)
	}
	return fmt.Sprintf("accounts: %s leg: account %s (%s) not in chart", e.Leg, e.Code, e.Role)
}

func (e *MissingAccountError) Unwrap() error {
	return ErrAccountNotConfigured
}
