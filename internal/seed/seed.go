// Package seed loads a catalog fixture and writes it into the stores.
package seed

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/product"
)

// Catalog is the fixture file layout.
type Catalog struct {
	Products  []productJSON  `json:"products"`
	Customers []customerJSON `json:"customers"`
	Discounts []discountJSON `json:"discounts"`
}

type productJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
	Stock      int             `json:"stock"`
	Weight     decimal.Decimal `json:"weight"`
}

type customerJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type discountJSON struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Kind        string          `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	MinPurchase decimal.Decimal `json:"min_purchase"`
	UsageLimit  int             `json:"usage_limit"`
	ValidFrom   *time.Time      `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until"`
	Active      *bool           `json:"active"`
	ProductIDs  []string        `json:"product_ids"`
	CategoryIDs []string        `json:"category_ids"`
	Description string          `json:"description"`
}

// ProductWriter, CustomerWriter and DiscountWriter are implemented by both
// the in-memory and the PostgreSQL repositories.
type (
	ProductWriter interface {
		Upsert(ctx context.Context, p product.Product) error
	}
	CustomerWriter interface {
		Upsert(ctx context.Context, c customer.Customer) error
	}
	DiscountWriter interface {
		Upsert(ctx context.Context, d discount.Discount) error
	}
)

// Stores groups the writers a catalog is applied to.
type Stores struct {
	Products  ProductWriter
	Customers CustomerWriter
	Discounts DiscountWriter
}

// Summary counts the records written by Apply.
type Summary struct {
	Products  int
	Customers int
	Discounts int
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes and validates a catalog.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	for i, p := range c.Products {
		switch {
		case p.ID == "":
			return errors.Errorf("product #%d: id is required", i)
		case p.Price.IsNegative():
			return errors.Errorf("product %s: negative price", p.ID)
		case p.Stock < 0:
			return errors.Errorf("product %s: negative stock", p.ID)
		}
	}
	for i, cu := range c.Customers {
		if cu.ID == "" {
			return errors.Errorf("customer #%d: id is required", i)
		}
	}
	for i, d := range c.Discounts {
		switch {
		case d.ID == "" || d.Code == "":
			return errors.Errorf("discount #%d: id and code are required", i)
		case discount.Kind(d.Kind) != discount.KindPercentage && discount.Kind(d.Kind) != discount.KindFixed:
			return errors.Errorf("discount %s: unknown kind %q", d.Code, d.Kind)
		case d.Value.IsNegative():
			return errors.Errorf("discount %s: negative value", d.Code)
		case d.UsageLimit < 0:
			return errors.Errorf("discount %s: negative usage limit", d.Code)
		}
	}
	return nil
}

// Apply upserts every record of c. A nil writer skips its section.
func Apply(ctx context.Context, c *Catalog, s Stores) (Summary, error) {
	var sum Summary

	if s.Products != nil {
		for _, p := range c.Products {
			if err := s.Products.Upsert(ctx, product.Product{
				ID:         p.ID,
				Name:       p.Name,
				Price:      p.Price,
				CategoryID: p.CategoryID,
				Stock:      p.Stock,
				Weight:     p.Weight,
			}); err != nil {
				return sum, errors.Wrapf(err, "upsert product %s", p.ID)
			}
			sum.Products++
		}
	}

	if s.Customers != nil {
		for _, cu := range c.Customers {
			if err := s.Customers.Upsert(ctx, customer.Customer(cu)); err != nil {
				return sum, errors.Wrapf(err, "upsert customer %s", cu.ID)
			}
			sum.Customers++
		}
	}

	if s.Discounts != nil {
		for _, d := range c.Discounts {
			active := true
			if d.Active != nil {
				active = *d.Active
			}
			if err := s.Discounts.Upsert(ctx, discount.Discount{
				ID:          d.ID,
				Code:        d.Code,
				Kind:        discount.Kind(d.Kind),
				Value:       d.Value,
				MinPurchase: d.MinPurchase,
				UsageLimit:  d.UsageLimit,
				ValidFrom:   d.ValidFrom,
				ValidUntil:  d.ValidUntil,
				Active:      active,
				ProductIDs:  d.ProductIDs,
				CategoryIDs: d.CategoryIDs,
				Description: d.Description,
			}); err != nil {
				return sum, errors.Wrapf(err, "upsert discount %s", d.Code)
			}
			sum.Discounts++
		}
	}

	return sum, nil
}
