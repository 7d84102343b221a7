package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Shipment is what a ShippingRule gets to look at.
type Shipment struct {
	Destination Address
	Units       int
	// Weight is the total weight in kilograms.
	Weight decimal.Decimal
	// Merchandise is the subtotal after discount.
	Merchandise decimal.Decimal
}

// ShippingRule computes the shipping cost of a shipment.
type ShippingRule func(Shipment) decimal.Decimal

func newShipment(lines []Line, dest Address, merchandise decimal.Decimal) Shipment {
	s := Shipment{
		Destination: dest,
		Weight:      decimal.Zero,
		Merchandise: merchandise,
	}
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.Quantity))
		s.Units += l.Quantity
		s.Weight = s.Weight.Add(l.Weight.Mul(qty))
	}
	return s
}

// FlatRate is the reference shipping policy: a base rate, a surcharge for
// destinations outside DomesticCountry, and per-item and per-kilogram
// surcharges. A positive FreeAbove makes shipping free once the discounted
// subtotal reaches it.
type FlatRate struct {
	Base                   decimal.Decimal
	InternationalSurcharge decimal.Decimal
	PerItem                decimal.Decimal
	PerKilogram            decimal.Decimal
	FreeAbove              decimal.Decimal
	DomesticCountry        string
}

// Rule returns the ShippingRule for f.
func (f FlatRate) Rule() ShippingRule {
	return func(s Shipment) decimal.Decimal {
		if f.FreeAbove.IsPositive() && s.Merchandise.GreaterThanOrEqual(f.FreeAbove) {
			return decimal.Zero
		}
		cost := f.Base
		if !f.domestic(s.Destination.Country) {
			cost = cost.Add(f.InternationalSurcharge)
		}
		cost = cost.Add(f.PerItem.Mul(decimal.NewFromInt(int64(s.Units))))
		cost = cost.Add(f.PerKilogram.Mul(s.Weight))
		return cost
	}
}

func (f FlatRate) domestic(country string) bool {
	if f.DomesticCountry == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(country), f.DomesticCountry)
}
