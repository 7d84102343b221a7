package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// SweeperConfig controls the pending-order expiry sweep.
type SweeperConfig struct {
	Interval   time.Duration
	PendingTTL time.Duration
	BatchSize  int
}

// Sweeper cancels orders that stayed Pending longer than the TTL and returns
// their stock. A payment event arriving afterwards finds the order no longer
// pending and changes nothing. It also retries stock returns that failed for
// orders already cancelled or failed.
type Sweeper struct {
	svc *Service
	cfg SweeperConfig
}

// NewSweeper creates a Sweeper.
func NewSweeper(svc *Service, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{svc: svc, cfg: cfg}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Pending order sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("pending_ttl", s.cfg.PendingTTL),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				lg.Error("Sweep pending orders", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Expired pending orders", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce cancels one batch of expired Pending orders and returns how many
// it cancelled. Afterwards it retries one batch of pending stock returns.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cancelled, err := s.expire(ctx)
	if err != nil {
		return cancelled, err
	}
	if err := s.retryReleases(ctx); err != nil {
		return cancelled, err
	}
	return cancelled, nil
}

func (s *Sweeper) expire(ctx context.Context) (int, error) {
	now := s.svc.now()
	stale, err := s.svc.orders.ListPendingBefore(ctx, now.Add(-s.cfg.PendingTTL), s.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list pending orders")
	}

	cancelled := 0
	for i := range stale {
		o := &stale[i]
		ok, err := s.svc.orders.TransitionStatus(ctx, o.ID, StatusPending, StatusCancelled, TransitionExtra{ResolvedAt: now})
		if err != nil {
			return cancelled, errors.Wrapf(err, "cancel order %s", o.ID)
		}
		if !ok {
			// Resolved by a payment event since the listing.
			continue
		}
		cancelled++
		if err := s.svc.releaseStock(ctx, o, "expired"); err != nil {
			zctx.From(ctx).Error("Release stock for expired order",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}
	return cancelled, nil
}

// retryReleases returns stock for terminal orders whose earlier release
// failed.
func (s *Sweeper) retryReleases(ctx context.Context) error {
	leftover, err := s.svc.orders.ListUnreleased(ctx, s.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "list unreleased orders")
	}
	for i := range leftover {
		o := &leftover[i]
		if err := s.svc.releaseStock(ctx, o, "retry"); err != nil {
			zctx.From(ctx).Error("Retry stock release",
				zap.String("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.Error(err),
			)
		}
	}
	return nil
}
