// Package pricing turns a set of priced line items into a price breakdown.
//
// All amounts are rounded to two decimal places, half away from zero, which
// for the non-negative amounts handled here is half-up. Calculate is a pure
// function, so quoting and placing an order with the same inputs always
// produce the same breakdown.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// TaxBase selects the amount tax is levied on.
type TaxBase string

const (
	// TaxPostDiscount taxes the subtotal after the discount is removed.
	TaxPostDiscount TaxBase = "post_discount"
	// TaxPreDiscount taxes the full subtotal.
	TaxPreDiscount TaxBase = "pre_discount"
)

// ParseTaxBase validates a configured tax base. Empty selects TaxPostDiscount.
func ParseTaxBase(s string) (TaxBase, error) {
	switch TaxBase(s) {
	case "", TaxPostDiscount:
		return TaxPostDiscount, nil
	case TaxPreDiscount:
		return TaxPreDiscount, nil
	default:
		return "", errors.Errorf("unknown tax base %q", s)
	}
}

// Line is a priced line item.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	// Weight of one unit in kilograms. Zero when unknown.
	Weight decimal.Decimal
}

// Address is a shipping destination.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Breakdown is the result of pricing a cart.
// Total = Subtotal - Discount + Shipping + Tax.
type Breakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Policy holds the store-wide pricing configuration.
type Policy struct {
	// TaxRate is a fraction, e.g. 0.085 for 8.5%.
	TaxRate  decimal.Decimal
	TaxBase  TaxBase
	Shipping ShippingRule
}

// Subtotal returns the sum of unit price times quantity.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Round rounds a monetary amount to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Calculate prices lines shipped to dest with an already resolved discount
// amount. The discount is clamped to [0, subtotal].
func (p Policy) Calculate(lines []Line, dest Address, discount decimal.Decimal) Breakdown {
	subtotal := Round(Subtotal(lines))

	discount = Round(discount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	merchandise := subtotal.Sub(discount)

	shipping := decimal.Zero
	if p.Shipping != nil && len(lines) > 0 {
		shipping = Round(p.Shipping(newShipment(lines, dest, merchandise)))
		if shipping.IsNegative() {
			shipping = decimal.Zero
		}
	}

	taxable := merchandise
	if p.TaxBase == TaxPreDiscount {
		taxable = subtotal
	}
	tax := Round(taxable.Mul(p.TaxRate))

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Sub(discount).Add(shipping).Add(tax),
	}
}
