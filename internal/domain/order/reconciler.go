package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
)

// Outcome describes what the reconciler did with an authenticated event.
// Every outcome is acknowledged to the gateway.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeStale        Outcome = "stale"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnknownOrder Outcome = "unknown_order"
	OutcomeMalformed    Outcome = "malformed"
)

// ProcessedEvent is an entry of the event ledger.
type ProcessedEvent struct {
	ID          string
	Type        string
	OrderID     string
	Outcome     Outcome
	ProcessedAt time.Time
}

// EventLedger remembers processed gateway events by id. Record is a no-op
// for an id that is already present.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, ev ProcessedEvent) error
}

// Verifier authenticates a raw event body against its signature header.
type Verifier interface {
	Verify(payload []byte, header string) error
}

// Reconciler applies gateway payment events to orders.
//
// The order status is the idempotency guard: every transition is a
// compare-and-swap from the expected source status, and a mismatch is a
// no-op. Discount usage and stock release are additionally guarded by
// once-flags so a redelivery can finish work an earlier attempt could not.
type Reconciler struct {
	svc      *Service
	verifier Verifier
	ledger   EventLedger
}

// NewReconciler creates a Reconciler that applies events through svc.
func NewReconciler(svc *Service, verifier Verifier, ledger EventLedger) *Reconciler {
	return &Reconciler{svc: svc, verifier: verifier, ledger: ledger}
}

// Handle authenticates and applies one event delivery.
//
// It returns payment.ErrInvalidSignature, without reading any state, when
// authentication fails. Any other error means a storage failure that a
// redelivery may resolve; everything else is reported through the Outcome.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (_ Outcome, rerr error) {
	if err := r.verifier.Verify(payload, signature); err != nil {
		return "", err
	}

	ctx, span := r.svc.tracer.Start(ctx, "order.Reconcile")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	lg := zctx.From(ctx)
	ev, err := payment.ParseEvent(payload)
	if err != nil {
		lg.Warn("Authenticated payment event is malformed", zap.Error(err))
		r.svc.metrics.eventHandled(ctx, "", OutcomeMalformed)
		return OutcomeMalformed, nil
	}

	lg = lg.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("order_id", ev.OrderID()),
	)
	ctx = zctx.Base(ctx, lg)
	span.SetAttributes(
		attribute.String("payment.event.id", ev.ID),
		attribute.String("payment.event.type", string(ev.Type)),
		attribute.String("order.id", ev.OrderID()),
	)

	seen, err := r.ledger.Seen(ctx, ev.ID)
	if err != nil {
		return "", errors.Wrap(err, "check event ledger")
	}
	if seen {
		lg.Info("Payment event already processed")
		r.svc.metrics.eventHandled(ctx, string(ev.Type), OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	outcome, err := r.apply(ctx, ev)
	if err != nil {
		return "", err
	}

	if err := r.ledger.Record(ctx, ProcessedEvent{
		ID:          ev.ID,
		Type:        string(ev.Type),
		OrderID:     ev.OrderID(),
		Outcome:     outcome,
		ProcessedAt: r.svc.now(),
	}); err != nil {
		lg.Error("Record payment event", zap.Error(err))
	}

	lg.Info("Payment event handled", zap.String("outcome", string(outcome)))
	r.svc.metrics.eventHandled(ctx, string(ev.Type), outcome)
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, ev *payment.Event) (Outcome, error) {
	completed, failed := ev.Completed(), ev.Failed()
	if !completed && !failed {
		return OutcomeIgnored, nil
	}

	orderID := ev.OrderID()
	if orderID == "" {
		zctx.From(ctx).Warn("Payment event carries no order reference")
		return OutcomeUnknownOrder, nil
	}
	o, err := r.svc.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			zctx.From(ctx).Warn("Payment event references unknown order")
			return OutcomeUnknownOrder, nil
		}
		return "", errors.Wrap(err, "get order")
	}

	if completed {
		return r.markPaid(ctx, o, ev)
	}
	return r.markFailed(ctx, o)
}

// markPaid moves Pending -> Processing and counts the discount use.
func (r *Reconciler) markPaid(ctx context.Context, o *Order, ev *payment.Event) (Outcome, error) {
	ok, err := r.svc.orders.TransitionStatus(ctx, o.ID, StatusPending, StatusProcessing, TransitionExtra{
		PaymentReference: ev.PaymentReference,
		ResolvedAt:       r.svc.now(),
	})
	if err != nil {
		return "", errors.Wrap(err, "transition to processing")
	}

	outcome := OutcomeApplied
	if !ok {
		current, err := r.svc.orders.GetByID(ctx, o.ID)
		if err != nil {
			return "", errors.Wrap(err, "reload order")
		}
		if current.Status != StatusProcessing {
			zctx.From(ctx).Warn("Payment completed for order no longer pending",
				zap.String("status", string(current.Status)),
			)
			return OutcomeStale, nil
		}
		o, outcome = current, OutcomeDuplicate
	}

	if err := r.svc.countDiscount(ctx, o); err != nil {
		return "", err
	}
	return outcome, nil
}

// markFailed moves Pending -> PaymentFailed and returns the reserved stock.
// A failure arriving for an order that was already paid changes nothing.
func (r *Reconciler) markFailed(ctx context.Context, o *Order) (Outcome, error) {
	ok, err := r.svc.orders.TransitionStatus(ctx, o.ID, StatusPending, StatusPaymentFailed, TransitionExtra{
		ResolvedAt: r.svc.now(),
	})
	if err != nil {
		return "", errors.Wrap(err, "transition to payment failed")
	}

	outcome := OutcomeApplied
	if !ok {
		current, err := r.svc.orders.GetByID(ctx, o.ID)
		if err != nil {
			return "", errors.Wrap(err, "reload order")
		}
		if current.Status != StatusPaymentFailed {
			zctx.From(ctx).Info("Payment failure for order no longer pending",
				zap.String("status", string(current.Status)),
			)
			return OutcomeStale, nil
		}
		o, outcome = current, OutcomeDuplicate
	}

	if err := r.svc.releaseStock(ctx, o, "payment_failed"); err != nil {
		return "", err
	}
	return outcome, nil
}

var _ Verifier = (*payment.Verifier)(nil)
