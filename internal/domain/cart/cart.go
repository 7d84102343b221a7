package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxQuantity bounds the quantity of a single cart line.
const MaxQuantity = 999

var (
	// ErrEmpty is returned when an operation needs at least one cart line.
	ErrEmpty = errors.New("cart is empty")
	// ErrInvalidQuantity is returned for non-positive line quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrQuantityTooLarge is returned when a line would exceed MaxQuantity.
	ErrQuantityTooLarge = errors.Errorf("quantity must not exceed %d", MaxQuantity)
	// ErrLineNotFound is returned when the cart has no line for a product and size.
	ErrLineNotFound = errors.New("cart line not found")
)

// Line is a single cart entry. UnitPrice is the catalog price captured when
// the line was added or last changed.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Size      string
}

// Key identifies a line within one customer's cart.
func (l Line) Key() string {
	return l.ProductID + "/" + l.Size
}

// Repository stores cart lines per customer. Put replaces the line with the
// same (ProductID, Size). Add merges into it in one storage operation: the
// stored quantity grows by line.Quantity and the price is replaced. Add
// returns ErrQuantityTooLarge, changing nothing, when the merged quantity
// would exceed MaxQuantity.
type Repository interface {
	Lines(ctx context.Context, customerID string) ([]Line, error)
	Put(ctx context.Context, customerID string, line Line) error
	Add(ctx context.Context, customerID string, line Line) error
	Remove(ctx context.Context, customerID, productID, size string) error
	Clear(ctx context.Context, customerID string) error
}
