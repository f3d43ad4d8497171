package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Sweeper cancels orders abandoned at checkout: PENDING orders older than
// the TTL whose reservation would otherwise hold stock forever. Each order
// goes through the regular Cancel path, so reserved stock returns to the
// available bucket under the same transactional discipline as a user
// cancellation.
type Sweeper struct {
	svc       *Service
	ttl       time.Duration
	interval  time.Duration
	batchSize int
}

// NewSweeper creates a Sweeper over the given workflow service. A zero ttl
// disables sweeping entirely.
func NewSweeper(svc *Service, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:       svc,
		ttl:       ttl,
		interval:  interval,
		batchSize: 100,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zctx.From(ctx).Error("checkout sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce cancels one batch of stale PENDING orders. A single order
// failing to cancel (for example because a payment verify won the order
// row lock and moved it on) is logged and skipped, not fatal.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.ttl)
	ids, err := s.svc.orders.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return errors.Wrap(err, "list stale orders")
	}

	lg := zctx.From(ctx)
	for _, id := range ids {
		if _, err := s.svc.Cancel(ctx, id, ""); err != nil {
			var itErr *IllegalTransitionError
			if errors.As(err, &itErr) {
				// Raced with a verify or a manual transition; no longer stale.
				continue
			}
			lg.Warn("cancel abandoned order",
				zap.String("order_id", id),
				zap.Error(err),
			)
			continue
		}
		lg.Info("cancelled abandoned order",
			zap.String("order_id", id),
			zap.Duration("ttl", s.ttl),
		)
	}
	return nil
}
