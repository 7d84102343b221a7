package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator resolves a discount code against a cart.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, items []Item) (*Applied, error)
}

// RepoValidator implements Validator by reading the current discount from a
// Repository on every call. Results are never cached: the registry is the
// only source of truth for activation, validity and usage.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks, in order: existence, activation, validity window, usage
// limit, minimum purchase and product/category applicability, then resolves
// the discount amount. It does not record a use.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, items []Item) (*Applied, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}

	d, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup discount")
	}

	if !d.Active {
		return nil, ErrInactive
	}

	now := v.now()
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return nil, ErrExpired
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return nil, ErrExpired
	}

	if d.UsageLimit > 0 && d.UsedCount >= d.UsageLimit {
		return nil, ErrExhausted
	}

	if subtotal.LessThan(d.MinPurchase) {
		return nil, ErrMinimumNotMet
	}

	if !applicable(d, items) {
		return nil, ErrNotApplicable
	}

	amount, err := Amount(d, subtotal)
	if err != nil {
		return nil, err
	}

	return &Applied{
		DiscountID: d.ID,
		Code:       d.Code,
		Kind:       d.Kind,
		Value:      d.Value,
		Amount:     amount,
	}, nil
}
