package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/product"
)

// Service manages a customer's cart.
type Service struct {
	lines     Repository
	products  product.Repository
	customers customer.Repository
}

// NewService creates a cart Service.
func NewService(lines Repository, products product.Repository, customers customer.Repository) *Service {
	return &Service{
		lines:     lines,
		products:  products,
		customers: customers,
	}
}

// Lines returns the customer's cart.
func (s *Service) Lines(ctx context.Context, customerID string) ([]Line, error) {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	return s.lines.Lines(ctx, customerID)
}

// Add puts qty units of a product into the cart, merging with an existing
// line of the same size. The line price is refreshed from the catalog.
func (s *Service) Add(ctx context.Context, customerID, productID, size string, qty int) ([]Line, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	line, err := s.line(ctx, productID, size, qty)
	if err != nil {
		return nil, err
	}
	if err := s.lines.Add(ctx, customerID, line); err != nil {
		return nil, errors.Wrap(err, "add cart line")
	}
	return s.lines.Lines(ctx, customerID)
}

// SetQuantity overwrites the quantity of a line. Zero removes it.
func (s *Service) SetQuantity(ctx context.Context, customerID, productID, size string, qty int) ([]Line, error) {
	switch {
	case qty < 0:
		return nil, ErrInvalidQuantity
	case qty > MaxQuantity:
		return nil, ErrQuantityTooLarge
	case qty == 0:
		if err := s.Remove(ctx, customerID, productID, size); err != nil {
			return nil, err
		}
		return s.lines.Lines(ctx, customerID)
	}
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	return s.put(ctx, customerID, productID, size, qty)
}

// Remove deletes a single line.
func (s *Service) Remove(ctx context.Context, customerID, productID, size string) error {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return err
	}
	return s.lines.Remove(ctx, customerID, productID, size)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, customerID string) error {
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return err
	}
	return s.lines.Clear(ctx, customerID)
}

func (s *Service) put(ctx context.Context, customerID, productID, size string, qty int) ([]Line, error) {
	line, err := s.line(ctx, productID, size, qty)
	if err != nil {
		return nil, err
	}
	if err := s.lines.Put(ctx, customerID, line); err != nil {
		return nil, errors.Wrap(err, "put cart line")
	}
	return s.lines.Lines(ctx, customerID)
}

func (s *Service) line(ctx context.Context, productID, size string, qty int) (Line, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return Line{}, err
	}
	return Line{
		ProductID: p.ID,
		Quantity:  qty,
		UnitPrice: p.Price,
		Size:      size,
	}, nil
}

func checkQuantity(qty int) error {
	switch {
	case qty <= 0:
		return ErrInvalidQuantity
	case qty > MaxQuantity:
		return ErrQuantityTooLarge
	}
	return nil
}
