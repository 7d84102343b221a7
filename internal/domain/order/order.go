package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusPaymentFailed Status = "payment_failed"
	StatusCancelled     Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:       {StatusProcessing, StatusPaymentFailed, StatusCancelled},
	StatusProcessing:    {StatusShipped, StatusCancelled},
	StatusShipped:       {StatusDelivered, StatusCancelled},
	StatusPaymentFailed: {StatusCancelled},
}

// adminTransitions is the subset reachable through UpdateStatus. Payment
// outcomes are only ever applied by the reconciler.
var adminTransitions = map[Status][]Status{
	StatusPending:       {StatusCancelled},
	StatusProcessing:    {StatusShipped, StatusCancelled},
	StatusShipped:       {StatusDelivered, StatusCancelled},
	StatusPaymentFailed: {StatusCancelled},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusPaymentFailed, StatusCancelled:
		return st, nil
	default:
		return "", errors.Errorf("unknown order status %q", s)
	}
}

// CanTransition reports whether the status machine allows from -> to.
func CanTransition(from, to Status) bool {
	return allowed(transitions, from, to)
}

func allowed(m map[Status][]Status, from, to Status) bool {
	for _, s := range m[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// InvalidTransitionError is returned for a status change the state machine
// does not allow from the order's current status.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Item is a line of an order with its price locked at placement time.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Size      string          `json:"size,omitempty"`
}

// Order is the system of record for a checkout.
//
// Total = Subtotal - Discount.Amount + ShippingCost + TaxAmount, fixed at
// creation and never recomputed.
type Order struct {
	ID              string
	CustomerID      string
	Items           []Item
	ShippingAddress pricing.Address
	Currency        string
	Subtotal        decimal.Decimal
	Discount        *discount.Applied
	ShippingCost    decimal.Decimal
	TaxAmount       decimal.Decimal
	Total           decimal.Decimal
	Status          Status
	// Reservation is the stock decrement applied when the order was placed.
	Reservation      []inventory.Line
	PaymentSessionID string
	PaymentReference string
	DiscountCounted  bool
	StockReleased    bool
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	UpdatedAt        time.Time
}

// DiscountAmount returns the applied discount, or zero.
func (o *Order) DiscountAmount() decimal.Decimal {
	if o.Discount == nil {
		return decimal.Zero
	}
	return o.Discount.Amount
}

// Flag names a once-only side effect recorded on the order.
type Flag string

const (
	FlagDiscountCounted Flag = "discount_counted"
	FlagStockReleased   Flag = "stock_released"
)

// TransitionExtra carries the fields written together with a status change.
// Zero values leave the stored fields untouched.
type TransitionExtra struct {
	PaymentReference string
	ResolvedAt       time.Time
}

// Repository persists orders.
//
// TransitionStatus is a compare-and-swap: it writes to and extra only when
// the stored status equals from, and reports whether it did. SetFlag is the
// same for once-flags: it reports false when the flag already has value.
// ListUnreleased returns cancelled or payment-failed orders whose reservation
// has not been returned yet, oldest first.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Order, error)
	ListUnreleased(ctx context.Context, limit int) ([]Order, error)
	TransitionStatus(ctx context.Context, id string, from, to Status, extra TransitionExtra) (bool, error)
	AttachPaymentSession(ctx context.Context, id, sessionID string) error
	SetFlag(ctx context.Context, id string, flag Flag, value bool) (bool, error)
}
