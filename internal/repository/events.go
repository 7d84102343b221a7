package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	eventSeenSQL = `SELECT EXISTS (SELECT 1 FROM payment_events WHERE id = $1)`

	recordEventSQL = `INSERT INTO payment_events (id, type, order_id, outcome, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
)

var _ order.EventLedger = (*EventLedger)(nil)

// EventLedger records processed payment events in PostgreSQL.
type EventLedger struct {
	pool *pgxpool.Pool
}

// NewEventLedger returns an EventLedger that uses the given pool.
func NewEventLedger(pool *pgxpool.Pool) *EventLedger {
	return &EventLedger{pool: pool}
}

func (l *EventLedger) Seen(ctx context.Context, id string) (bool, error) {
	var seen bool
	if err := l.pool.QueryRow(ctx, eventSeenSQL, id).Scan(&seen); err != nil {
		return false, fmt.Errorf("checking event %q: %w", id, err)
	}
	return seen, nil
}

// Record stores e. Recording an event twice keeps the first entry.
func (l *EventLedger) Record(ctx context.Context, e order.ProcessedEvent) error {
	_, err := l.pool.Exec(ctx, recordEventSQL, e.ID, e.Type, e.OrderID, string(e.Outcome), e.ProcessedAt)
	if err != nil {
		return fmt.Errorf("recording event %q: %w", e.ID, err)
	}
	return nil
}
