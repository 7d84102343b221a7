package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Get returns an order. A non-empty customerID restricts the lookup to that
// customer's orders; other customers' orders are reported as not found.
func (s *Service) Get(ctx context.Context, id, customerID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if customerID != "" && o.CustomerID != customerID {
		return nil, ErrNotFound
	}
	return o, nil
}

// List returns the customer's orders, newest first.
func (s *Service) List(ctx context.Context, customerID string) ([]Order, error) {
	return s.orders.ListByCustomer(ctx, customerID)
}

// UpdateStatus applies an administrative status change. Only fulfilment
// progression and cancellation are allowed; cancelling an order whose stock
// is still reserved returns it to the catalog.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if !allowed(adminTransitions, from, to) {
		return nil, &InvalidTransitionError{From: from, To: to}
	}

	extra := TransitionExtra{}
	if from == StatusPending {
		extra.ResolvedAt = s.now()
	}
	ok, err := s.orders.TransitionStatus(ctx, id, from, to, extra)
	if err != nil {
		return nil, errors.Wrap(err, "transition status")
	}
	if !ok {
		// Lost a race with the reconciler, the sweeper or another admin.
		current, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidTransitionError{From: current.Status, To: to}
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	if to == StatusCancelled && (from == StatusPending || from == StatusProcessing) {
		if err := s.releaseStock(ctx, o, "cancelled"); err != nil {
			zctx.From(ctx).Error("Release stock for cancelled order",
				zap.String("order_id", id),
				zap.Error(err),
			)
		}
	}

	return s.orders.GetByID(ctx, id)
}

// releaseStock returns the order's reservation to the catalog at most once
// per order lifetime.
func (s *Service) releaseStock(ctx context.Context, o *Order, cause string) error {
	if len(o.Reservation) == 0 {
		return nil
	}
	claimed, err := s.orders.SetFlag(ctx, o.ID, FlagStockReleased, true)
	if err != nil {
		return errors.Wrap(err, "claim stock release")
	}
	if !claimed {
		return nil
	}
	if err := s.inventory.Release(ctx, o.Reservation); err != nil {
		s.unclaim(ctx, o.ID, FlagStockReleased)
		return errors.Wrap(err, "release stock")
	}
	o.StockReleased = true
	s.metrics.stockReleased(ctx, cause)
	zctx.From(ctx).Info("Stock released",
		zap.String("order_id", o.ID),
		zap.String("cause", cause),
	)
	return nil
}

// countDiscount records one use of the order's discount at most once per
// order lifetime.
func (s *Service) countDiscount(ctx context.Context, o *Order) error {
	if o.Discount == nil {
		return nil
	}
	claimed, err := s.orders.SetFlag(ctx, o.ID, FlagDiscountCounted, true)
	if err != nil {
		return errors.Wrap(err, "claim discount usage")
	}
	if !claimed {
		return nil
	}
	incremented, err := s.discounts.IncrementUsage(ctx, o.Discount.DiscountID)
	if err != nil {
		s.unclaim(ctx, o.ID, FlagDiscountCounted)
		return errors.Wrap(err, "increment discount usage")
	}
	o.DiscountCounted = true
	if !incremented {
		// The limit was consumed by other orders paid between validation and
		// now. The customer has paid, so the order stands.
		zctx.From(ctx).Warn("Discount usage limit already reached at payment",
			zap.String("order_id", o.ID),
			zap.String("discount_id", o.Discount.DiscountID),
			zap.String("code", o.Discount.Code),
		)
	}
	return nil
}

func (s *Service) unclaim(ctx context.Context, id string, flag Flag) {
	if _, err := s.orders.SetFlag(context.WithoutCancel(ctx), id, flag, false); err != nil {
		zctx.From(ctx).Error("Undo once-flag claim",
			zap.String("order_id", id),
			zap.String("flag", string(flag)),
			zap.Error(err),
		)
	}
}
