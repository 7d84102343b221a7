package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/customer"
)

// CustomerRepository is an in-memory identity store.
type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]customer.Customer
}

var _ customer.Repository = (*CustomerRepository)(nil)

func NewCustomerRepository(customers ...customer.Customer) *CustomerRepository {
	r := &CustomerRepository{customers: make(map[string]customer.Customer, len(customers))}
	for _, c := range customers {
		r.customers[c.ID] = c
	}
	return r
}

// Upsert inserts or replaces a customer.
func (r *CustomerRepository) Upsert(_ context.Context, c customer.Customer) error {
	if c.ID == "" {
		return errors.New("customer id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = c
	return nil
}

func (r *CustomerRepository) GetByID(_ context.Context, id string) (*customer.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}
