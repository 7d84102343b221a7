// Package inventory reserves and releases catalog stock for orders.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ErrInvalidQuantity is returned for non-positive line quantities.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// InsufficientStockError names the first product whose conditional decrement
// failed.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

// Line is a (product, quantity) pair to reserve or release.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Stock is the part of the catalog store the gatekeeper needs.
//
// DecrementStock must decrement only if the current stock covers qty, in a
// single storage operation, and report whether it did.
//
// Restock must return every line or none of them.
type Stock interface {
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	Restock(ctx context.Context, lines []Line) error
}

// Gatekeeper applies stock reservations as batches of conditional decrements.
type Gatekeeper struct {
	stock Stock
}

// NewGatekeeper creates a Gatekeeper over the given catalog stock.
func NewGatekeeper(stock Stock) *Gatekeeper {
	return &Gatekeeper{stock: stock}
}

// Reserve decrements stock for every line. Lines for the same product are
// merged first. If any decrement fails, the ones already applied are
// compensated before the error is returned, so a failed Reserve leaves stock
// unchanged. On success it returns the applied decrements.
func (g *Gatekeeper) Reserve(ctx context.Context, lines []Line) ([]Line, error) {
	merged, err := Merge(lines)
	if err != nil {
		return nil, err
	}

	applied := make([]Line, 0, len(merged))
	for _, l := range merged {
		ok, err := g.stock.DecrementStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			g.rollback(ctx, applied)
			return nil, errors.Wrapf(err, "decrement stock for %s", l.ProductID)
		}
		if !ok {
			g.rollback(ctx, applied)
			return nil, &InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		applied = append(applied, l)
	}
	return applied, nil
}

// Release returns previously reserved stock as one batch. Non-positive lines
// are skipped. On error no line has been returned, so the call can be retried
// with the same lines.
func (g *Gatekeeper) Release(ctx context.Context, lines []Line) error {
	positive := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity > 0 {
			positive = append(positive, l)
		}
	}
	if len(positive) == 0 {
		return nil
	}
	merged, err := Merge(positive)
	if err != nil {
		return err
	}
	if err := g.stock.Restock(ctx, merged); err != nil {
		return errors.Wrap(err, "restock")
	}
	return nil
}

// rollback compensates applied decrements. It runs even when ctx is already
// cancelled.
func (g *Gatekeeper) rollback(ctx context.Context, applied []Line) {
	if len(applied) == 0 {
		return
	}
	if err := g.Release(context.WithoutCancel(ctx), applied); err != nil {
		zctx.From(ctx).Error("Stock rollback failed",
			zap.Any("lines", applied),
			zap.Error(err),
		)
	}
}

// Merge sums quantities per product, keeping first-seen order.
func Merge(lines []Line) ([]Line, error) {
	index := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
