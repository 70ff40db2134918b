package receipts

import (
	"context"
	"fmt"
	"time"
)

// Guard strategies, in evaluation order.
const (
	StrategySourceID    = "source_id"
	StrategyInvoice     = "invoice_number"
	StrategyLegacyNotes = "legacy_notes"
	StrategyConstraint  = "unique_constraint"
)

// GuardStore is the subset of TxRepository the guard needs. Finders ignore
// cancelled vouchers.
type GuardStore interface {
	FindActiveBySource(ctx context.Context, sourceID int64) (Voucher, bool, error)
	FindActiveByInvoice(ctx context.Context, voucherType VoucherType, invoice string) (Voucher, bool, error)
	FindActiveByNotes(ctx context.Context, fragment string) (Voucher, bool, error)
	MarkSourcePosted(ctx context.Context, sourceID, voucherID int64, at time.Time) error
}

// GuardHit describes an existing voucher for a source.
type GuardHit struct {
	Voucher  Voucher
	Strategy string
	Healed   bool
}

// Guard detects sources that already carry a voucher.
type Guard struct {
	// LegacyNotes enables substring matching of the invoice number against voucher
	// notes. It exists for backfilling vouchers created before source ids were
	// recorded and can produce false positives.
	LegacyNotes bool
}

// Check returns nil when src may be posted. On a hit the source's posted flag is
// repaired if it drifted.
func (g Guard) Check(ctx context.Context, store GuardStore, src SourceTransaction, voucherType VoucherType, now time.Time) (*GuardHit, error) {
	hit, err := g.find(ctx, store, src, voucherType)
	if err != nil || hit == nil {
		return nil, err
	}
	if !src.Posted || src.VoucherID == nil || *src.VoucherID != hit.Voucher.ID {
		if err := store.MarkSourcePosted(ctx, src.ID, hit.Voucher.ID, now); err != nil {
			return nil, fmt.Errorf("receipts: heal source %d: %w", src.ID, err)
		}
		hit.Healed = true
	}
	return hit, nil
}

func (g Guard) find(ctx context.Context, store GuardStore, src SourceTransaction, voucherType VoucherType) (*GuardHit, error) {
	v, ok, err := store.FindActiveBySource(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		return &GuardHit{Voucher: v, Strategy: StrategySourceID}, nil
	}
	if src.InvoiceNumber == "" {
		return nil, nil
	}
	v, ok, err = store.FindActiveByInvoice(ctx, voucherType, src.InvoiceNumber)
	if err != nil {
		return nil, err
	}
	if ok {
		return &GuardHit{Voucher: v, Strategy: StrategyInvoice}, nil
	}
	if !g.LegacyNotes {
		return nil, nil
	}
	v, ok, err = store.FindActiveByNotes(ctx, src.InvoiceNumber)
	if err != nil {
		return nil, err
	}
	if ok {
		return &GuardHit{Voucher: v, Strategy: StrategyLegacyNotes}, nil
	}
	return nil, nil
}
