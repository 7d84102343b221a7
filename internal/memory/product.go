// Package memory implements the store ports in process memory. Every
// conditional update runs under the store's lock, which gives the same
// all-or-nothing behaviour as the single-statement updates of the
// PostgreSQL stores within one process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

// ProductRepository is an in-memory catalog.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]product.Product
}

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ inventory.Stock    = (*ProductRepository)(nil)
)

// NewProductRepository creates a catalog holding products.
func NewProductRepository(products ...product.Product) *ProductRepository {
	r := &ProductRepository{products: make(map[string]product.Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(_ context.Context, p product.Product) error {
	if p.ID == "" {
		return errors.New("product id is required")
	}
	if p.Stock < 0 {
		return errors.Errorf("product %s: stock must not be negative", p.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// GetByIDs returns the products that exist, in request order, without
// duplicates.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *ProductRepository) DecrementStock(_ context.Context, id string, qty int) (bool, error) {
	if qty <= 0 {
		return false, inventory.ErrInvalidQuantity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	r.products[id] = p
	return true, nil
}

func (r *ProductRepository) IncrementStock(_ context.Context, id string, qty int) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += qty
	r.products[id] = p
	return nil
}

// Restock returns every line under one lock hold, or none if any product is
// unknown.
func (r *ProductRepository) Restock(_ context.Context, lines []inventory.Line) error {
	for _, l := range lines {
		if l.Quantity <= 0 {
			return inventory.ErrInvalidQuantity
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range lines {
		if _, ok := r.products[l.ProductID]; !ok {
			return errors.Wrapf(product.ErrNotFound, "restock %s", l.ProductID)
		}
	}
	for _, l := range lines {
		p := r.products[l.ProductID]
		p.Stock += l.Quantity
		r.products[l.ProductID] = p
	}
	return nil
}
