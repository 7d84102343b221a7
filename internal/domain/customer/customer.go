package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the identity store has no such customer.
var ErrNotFound = errors.New("customer not found")

// Customer is the acting shopper as supplied by the identity store.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// Repository provides read-only access to customers.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
}
