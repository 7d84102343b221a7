package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	listCartLinesSQL = `SELECT product_id, quantity, unit_price, size FROM cart_lines
		WHERE customer_id = $1 ORDER BY added_at, product_id, size`

	putCartLineSQL = `INSERT INTO cart_lines (customer_id, product_id, size, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id, product_id, size) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price`

	addCartLineSQL = `INSERT INTO cart_lines AS c (customer_id, product_id, size, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id, product_id, size) DO UPDATE SET
			quantity = c.quantity + EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price
		WHERE c.quantity + EXCLUDED.quantity <= $6`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE customer_id = $1 AND product_id = $2 AND size = $3`

	clearCartSQL = `DELETE FROM cart_lines WHERE customer_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) Lines(ctx context.Context, customerID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var (
			l   cart.Line
			qty int32
		)
		err := row.Scan(&l.ProductID, &qty, &l.UnitPrice, &l.Size)
		l.Quantity = int(qty)
		return l, err
	})
}

func (r *CartRepository) Put(ctx context.Context, customerID string, line cart.Line) error {
	_, err := r.pool.Exec(ctx, putCartLineSQL, customerID, line.ProductID, line.Size, line.Quantity, line.UnitPrice)
	if err != nil {
		return fmt.Errorf("putting cart line %q: %w", line.Key(), err)
	}
	return nil
}

// Add merges line into the stored line in one upsert. The conflict update
// is skipped when the sum would exceed cart.MaxQuantity.
func (r *CartRepository) Add(ctx context.Context, customerID string, line cart.Line) error {
	if line.Quantity <= 0 {
		return cart.ErrInvalidQuantity
	}
	if line.Quantity > cart.MaxQuantity {
		return cart.ErrQuantityTooLarge
	}
	tag, err := r.pool.Exec(ctx, addCartLineSQL,
		customerID, line.ProductID, line.Size, line.Quantity, line.UnitPrice, cart.MaxQuantity)
	if err != nil {
		return fmt.Errorf("adding cart line %q: %w", line.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrQuantityTooLarge
	}
	return nil
}

func (r *CartRepository) Remove(ctx context.Context, customerID, productID, size string) error {
	tag, err := r.pool.Exec(ctx, removeCartLineSQL, customerID, productID, size)
	if err != nil {
		return fmt.Errorf("removing cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, customerID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, customerID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", customerID, err)
	}
	return nil
}
