package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/order"
)

// EventLedger is an in-memory record of processed payment events.
type EventLedger struct {
	mu     sync.RWMutex
	events map[string]order.ProcessedEvent
}

var _ order.EventLedger = (*EventLedger)(nil)

func NewEventLedger() *EventLedger {
	return &EventLedger{events: make(map[string]order.ProcessedEvent)}
}

func (l *EventLedger) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.events[eventID]
	return ok, nil
}

func (l *EventLedger) Record(_ context.Context, ev order.ProcessedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[ev.ID]; !ok {
		l.events[ev.ID] = ev
	}
	return nil
}

// Len returns the number of recorded events.
func (l *EventLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
