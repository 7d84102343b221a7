package discount

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Amount resolves the monetary value of d against subtotal, rounded to cents
// and never more than subtotal.
func Amount(d *Discount, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch d.Kind {
	case KindPercentage:
		amount = subtotal.Mul(d.Value).Div(hundred)
	case KindFixed:
		amount = decimal.Min(d.Value, subtotal)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount kind: %q", d.Kind)
	}
	amount = floorAtZero(amount).Round(2)
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount, nil
}

// applicable reports whether at least one item matches the discount's product
// or category restrictions. Unrestricted discounts apply to everything.
func applicable(d *Discount, items []Item) bool {
	if len(d.ProductIDs) == 0 && len(d.CategoryIDs) == 0 {
		return true
	}
	products := toSet(d.ProductIDs)
	categories := toSet(d.CategoryIDs)
	for _, item := range items {
		if _, ok := products[item.ProductID]; ok {
			return true
		}
		if _, ok := categories[item.CategoryID]; ok && item.CategoryID != "" {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
