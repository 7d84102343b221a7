package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/cart"
)

// CartRepository keeps cart lines per customer in insertion order.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string][]cart.Line
}

var _ cart.Repository = (*CartRepository)(nil)

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]cart.Line)}
}

func (r *CartRepository) Lines(_ context.Context, customerID string) ([]cart.Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.carts[customerID]), nil
}

func (r *CartRepository) Put(_ context.Context, customerID string, line cart.Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.carts[customerID]
	for i := range lines {
		if lines[i].Key() == line.Key() {
			lines[i] = line
			return nil
		}
	}
	r.carts[customerID] = append(lines, line)
	return nil
}

func (r *CartRepository) Add(_ context.Context, customerID string, line cart.Line) error {
	if line.Quantity <= 0 {
		return cart.ErrInvalidQuantity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.carts[customerID]
	for i := range lines {
		if lines[i].Key() != line.Key() {
			continue
		}
		if line.Quantity > cart.MaxQuantity-lines[i].Quantity {
			return cart.ErrQuantityTooLarge
		}
		lines[i].Quantity += line.Quantity
		lines[i].UnitPrice = line.UnitPrice
		return nil
	}
	if line.Quantity > cart.MaxQuantity {
		return cart.ErrQuantityTooLarge
	}
	r.carts[customerID] = append(lines, line)
	return nil
}

func (r *CartRepository) Remove(_ context.Context, customerID, productID, size string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cart.Line{ProductID: productID, Size: size}.Key()
	lines := r.carts[customerID]
	for i := range lines {
		if lines[i].Key() == key {
			r.carts[customerID] = slices.Delete(lines, i, i+1)
			return nil
		}
	}
	return cart.ErrLineNotFound
}

func (r *CartRepository) Clear(_ context.Context, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, customerID)
	return nil
}
