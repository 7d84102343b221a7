package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes Value percent off the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes Value off the subtotal, capped at the subtotal.
	KindFixed Kind = "fixed"
)

// Rejection reasons, checked in this order by the validator.
var (
	ErrNotFound      = errors.New("discount code not found")
	ErrInactive      = errors.New("discount is not active")
	ErrExpired       = errors.New("discount expired")
	ErrExhausted     = errors.New("discount usage limit reached")
	ErrMinimumNotMet = errors.New("discount minimum purchase not met")
	ErrNotApplicable = errors.New("discount not applicable to cart")
)

// IsRejection reports whether err is one of the validator's rejection reasons.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInactive, ErrExpired, ErrExhausted, ErrMinimumNotMet, ErrNotApplicable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Discount is a registered discount code.
type Discount struct {
	ID          string
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	MinPurchase decimal.Decimal
	// UsageLimit caps UsedCount. Zero means unlimited.
	UsageLimit  int
	UsedCount   int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Active      bool
	ProductIDs  []string
	CategoryIDs []string
	Description string
}

// Applied is a discount resolved against a specific cart. It is stored on the
// order as-is, so later edits to the discount do not change the order.
type Applied struct {
	DiscountID string          `json:"discount_id"`
	Code       string          `json:"code"`
	Kind       Kind            `json:"kind"`
	Value      decimal.Decimal `json:"value"`
	Amount     decimal.Decimal `json:"amount"`
}

// Item is a cart line as seen by applicability checks.
type Item struct {
	ProductID  string
	CategoryID string
	Price      decimal.Decimal
	Quantity   int
}

// Repository is the discount registry.
//
// FindByCode matches case-insensitively and returns ErrNotFound for unknown
// codes. IncrementUsage adds one use in a single conditional update guarded by
// the usage limit and reports whether it did.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
	IncrementUsage(ctx context.Context, id string) (bool, error)
}
