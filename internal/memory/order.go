package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

// OrderRepository is an in-memory order store.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	now    func() time.Time
}

var _ order.Repository = (*OrderRepository)(nil)

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*order.Order),
		now:    time.Now,
	}
}

func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	if o == nil || o.ID == "" {
		return errors.New("order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return errors.Errorf("order %s already exists", o.ID)
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) ListByCustomer(_ context.Context, customerID string) ([]order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []order.Order
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []order.Order
	for _, o := range r.orders {
		if o.Status == order.StatusPending && o.CreatedAt.Before(before) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) ListUnreleased(_ context.Context, limit int) ([]order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []order.Order
	for _, o := range r.orders {
		if o.StockReleased || len(o.Reservation) == 0 {
			continue
		}
		if o.Status == order.StatusPaymentFailed || o.Status == order.StatusCancelled {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) TransitionStatus(_ context.Context, id string, from, to order.Status, extra order.TransitionExtra) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	if extra.PaymentReference != "" {
		o.PaymentReference = extra.PaymentReference
	}
	if !extra.ResolvedAt.IsZero() && o.ResolvedAt == nil {
		t := extra.ResolvedAt
		o.ResolvedAt = &t
	}
	o.UpdatedAt = r.now()
	return true, nil
}

func (r *OrderRepository) AttachPaymentSession(_ context.Context, id, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PaymentSessionID = sessionID
	o.UpdatedAt = r.now()
	return nil
}

func (r *OrderRepository) SetFlag(_ context.Context, id string, flag order.Flag, value bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	var field *bool
	switch flag {
	case order.FlagDiscountCounted:
		field = &o.DiscountCounted
	case order.FlagStockReleased:
		field = &o.StockReleased
	default:
		return false, errors.Errorf("unknown order flag %q", flag)
	}
	if *field == value {
		return false, nil
	}
	*field = value
	o.UpdatedAt = r.now()
	return true, nil
}

func cloneOrder(o *order.Order) *order.Order {
	clone := *o
	clone.Items = slices.Clone(o.Items)
	clone.Reservation = slices.Clone(o.Reservation)
	if o.Discount != nil {
		d := *o.Discount
		clone.Discount = &d
	}
	if o.ResolvedAt != nil {
		t := *o.ResolvedAt
		clone.ResolvedAt = &t
	}
	return &clone
}
