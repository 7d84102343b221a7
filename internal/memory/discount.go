package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/discount"
)

// DiscountRepository is an in-memory discount registry keyed by lower-cased
// code.
type DiscountRepository struct {
	mu     sync.RWMutex
	byID   map[string]*discount.Discount
	byCode map[string]string
}

var _ discount.Repository = (*DiscountRepository)(nil)

func NewDiscountRepository(discounts ...discount.Discount) *DiscountRepository {
	r := &DiscountRepository{
		byID:   make(map[string]*discount.Discount),
		byCode: make(map[string]string),
	}
	for _, d := range discounts {
		_ = r.Upsert(context.Background(), d)
	}
	return r
}

// Upsert inserts or replaces a discount. Codes are unique regardless of case.
func (r *DiscountRepository) Upsert(_ context.Context, d discount.Discount) error {
	if d.ID == "" || d.Code == "" {
		return errors.New("discount id and code are required")
	}
	key := strings.ToLower(d.Code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byCode[key]; ok && owner != d.ID {
		return errors.Errorf("discount code %q already used by %s", d.Code, owner)
	}
	if prev, ok := r.byID[d.ID]; ok {
		delete(r.byCode, strings.ToLower(prev.Code))
	}
	r.byID[d.ID] = cloneDiscount(&d)
	r.byCode[key] = d.ID
	return nil
}

func (r *DiscountRepository) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return nil, discount.ErrNotFound
	}
	return cloneDiscount(r.byID[id]), nil
}

func (r *DiscountRepository) IncrementUsage(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return false, discount.ErrNotFound
	}
	if d.UsageLimit > 0 && d.UsedCount >= d.UsageLimit {
		return false, nil
	}
	d.UsedCount++
	return true, nil
}

// UsedCount returns the recorded uses of a discount.
func (r *DiscountRepository) UsedCount(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byID[id]; ok {
		return d.UsedCount
	}
	return 0
}

func cloneDiscount(d *discount.Discount) *discount.Discount {
	clone := *d
	clone.ProductIDs = slices.Clone(d.ProductIDs)
	clone.CategoryIDs = slices.Clone(d.CategoryIDs)
	if d.ValidFrom != nil {
		t := *d.ValidFrom
		clone.ValidFrom = &t
	}
	if d.ValidUntil != nil {
		t := *d.ValidUntil
		clone.ValidUntil = &t
	}
	return &clone
}
