package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	CategoryID string
	// Stock is the number of units available. It is never negative.
	Stock int
	// Weight is the shipping weight of a single unit in kilograms.
	Weight decimal.Decimal
}

// Repository is the catalog store.
//
// DecrementStock must be a single conditional update at the storage layer:
// it subtracts qty only when the current stock is at least qty and reports
// whether it did. A read followed by a separate write is not acceptable.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
	IncrementStock(ctx context.Context, id string, qty int) error
}
