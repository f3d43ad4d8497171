// Package inventory owns the per-product stock ledger and the three
// primitives that move units between its buckets: reserve
// (available→reserved), finalize (reserved→retired from total), and
// rollback (reserved→available). No other component writes the counters.
package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Ledger applies stock movements to ledger records.
//
// Reserve, Finalize, and Rollback mutate under the row lock taken by
// Repository.GetForUpdate and are meant to be called inside the caller's
// transaction: a reservation must commit or abort together with the order
// that holds it.
type Ledger struct {
	repo Repository
	tx   TxRunner
}

// NewLedger creates a Ledger backed by the given repository.
func NewLedger(repo Repository, tx TxRunner) *Ledger {
	return &Ledger{repo: repo, tx: tx}
}

// Reserve moves qty units from available to reserved. It fails with
// *InsufficientStockError when fewer than qty units are available at the
// moment the row lock is held.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	rec, err := l.repo.GetForUpdate(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "lock inventory %s", productID)
	}

	if qty > rec.Available {
		return &InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: rec.Available,
		}
	}

	rec.Available -= qty
	rec.Reserved += qty
	return l.repo.UpdateCounts(ctx, rec)
}

// Finalize retires qty reserved units from the ledger entirely: the stock
// has been sold and leaves the warehouse. Called exactly once per
// reservation, on payment success.
func (l *Ledger) Finalize(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	rec, err := l.repo.GetForUpdate(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "lock inventory %s", productID)
	}

	if qty > rec.Reserved {
		err := &InvalidStateError{ProductID: productID, Op: "finalize", Requested: qty, Reserved: rec.Reserved}
		zctx.From(ctx).Error("ledger invariant violated",
			zap.String("product_id", productID),
			zap.Int("requested", qty),
			zap.Int("reserved", rec.Reserved),
		)
		return err
	}

	rec.Reserved -= qty
	rec.Total -= qty
	return l.repo.UpdateCounts(ctx, rec)
}

// Rollback returns qty reserved units to the available bucket after a
// failed or abandoned payment. Called exactly once per reservation.
func (l *Ledger) Rollback(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	rec, err := l.repo.GetForUpdate(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "lock inventory %s", productID)
	}

	if qty > rec.Reserved {
		err := &InvalidStateError{ProductID: productID, Op: "rollback", Requested: qty, Reserved: rec.Reserved}
		zctx.From(ctx).Error("ledger invariant violated",
			zap.String("product_id", productID),
			zap.Int("requested", qty),
			zap.Int("reserved", rec.Reserved),
		)
		return err
	}

	rec.Reserved -= qty
	rec.Available += qty
	return l.repo.UpdateCounts(ctx, rec)
}

// CreateStock creates the ledger row when a product is first stocked.
// All units start available.
func (l *Ledger) CreateStock(ctx context.Context, productID string, total int) (*Record, error) {
	if total < 0 {
		return nil, ErrInvalidQuantity
	}

	rec := &Record{
		ProductID: productID,
		Total:     total,
		Available: total,
		Reserved:  0,
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		return nil, errors.Wrapf(err, "create inventory %s", productID)
	}
	return rec, nil
}

// AdjustTotal restocks or writes down a product to a new total. The delta
// is applied to the available bucket; reserved units belong to pending
// orders and are untouched. An adjustment that would drive available
// negative is rejected.
func (l *Ledger) AdjustTotal(ctx context.Context, productID string, newTotal int) (*Record, error) {
	if newTotal < 0 {
		return nil, ErrInvalidQuantity
	}

	var out *Record
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		rec, err := l.repo.GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		diff := newTotal - rec.Total
		if rec.Available+diff < 0 {
			return &InsufficientStockError{
				ProductID: productID,
				Requested: -diff,
				Available: rec.Available,
			}
		}

		rec.Total = newTotal
		rec.Available += diff
		if err := l.repo.UpdateCounts(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the current ledger record for a product.
func (l *Ledger) Get(ctx context.Context, productID string) (*Record, error) {
	return l.repo.Get(ctx, productID)
}
