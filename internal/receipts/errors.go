package receipts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

var (
	// ErrVoucherNotFound indicates the voucher does not exist.
	ErrVoucherNotFound = errors.New("receipts: voucher not found")
	// ErrSourceNotFound indicates the source transaction does not exist.
	ErrSourceNotFound = errors.New("receipts: source transaction not found")
	// ErrRunNotFound indicates the batch run does not exist.
	ErrRunNotFound = errors.New("receipts: batch run not found")
	// ErrBranchNotFound indicates the source references an unknown branch.
	ErrBranchNotFound = errors.New("receipts: branch not found")
	// ErrAlreadyPosted is raised by the store when the active-source constraint fires.
	ErrAlreadyPosted = errors.New("receipts: source already has a voucher")
	// ErrAlreadyCancelled rejects cancelling twice.
	ErrAlreadyCancelled = errors.New("receipts: voucher already cancelled")
	// ErrReasonRequired rejects a cancel without reason.
	ErrReasonRequired = errors.New("receipts: cancel reason required")
	// ErrInvalidAmount rejects sources without a positive amount.
	ErrInvalidAmount = errors.New("receipts: amount must be positive")
	// ErrInvalidType rejects unknown voucher types.
	ErrInvalidType = errors.New("receipts: invalid voucher type")
	// ErrDirectionMismatch rejects e.g. an OUT movement posted as a return.
	ErrDirectionMismatch = errors.New("receipts: source direction does not match voucher type")
	// ErrBatchInProgress indicates another run holds the branch lock.
	ErrBatchInProgress = errors.New("receipts: batch already running for branch")
	// ErrInvalidFilter rejects inconsistent batch or report filters.
	ErrInvalidFilter = errors.New("receipts: invalid filter")
)

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVoucherNotFound) || errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrRunNotFound) || errors.Is(err, shared.ErrNotFound)
}

// IsTransient reports infrastructure errors worth retrying: serialization
// failures, deadlocks, admin shutdowns and connection errors that pgx marks safe.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "08000", "08003", "08006":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
