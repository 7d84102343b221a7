package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const (
	orderColumns = `id::text, customer_id, items, shipping_address, currency, subtotal, discount,
		shipping_cost, tax_amount, total, status, reservation, payment_session_id,
		payment_reference, discount_counted, stock_released, created_at, resolved_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, customer_id, items, shipping_address, currency,
			subtotal, discount, shipping_cost, tax_amount, total, status, reservation,
			payment_session_id, payment_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 ORDER BY created_at DESC`

	listPendingBeforeSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`

	listUnreleasedSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status IN ('payment_failed', 'cancelled') AND NOT stock_released
			AND jsonb_array_length(reservation) > 0
		ORDER BY created_at LIMIT $1`

	transitionOrderSQL = `UPDATE orders SET
			status = $3,
			payment_reference = CASE WHEN $4 = '' THEN payment_reference ELSE $4 END,
			resolved_at = COALESCE(resolved_at, $5),
			updated_at = now()
		WHERE id = $1 AND status = $2`

	attachSessionSQL = `UPDATE orders SET payment_session_id = $2, updated_at = now() WHERE id = $1`

	setDiscountCountedSQL = `UPDATE orders SET discount_counted = $2, updated_at = now()
		WHERE id = $1 AND discount_counted <> $2`

	setStockReleasedSQL = `UPDATE orders SET stock_released = $2, updated_at = now()
		WHERE id = $1 AND stock_released <> $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items,
// the shipping address, the applied discount and the reservation are stored
// as JSONB snapshots.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// addressJSON is the stored form of a shipping address.
type addressJSON struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := uuid.Parse(o.ID); err != nil {
		return fmt.Errorf("creating order %q: invalid id: %w", o.ID, err)
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addrJSON, err := json.Marshal(addressJSON(o.ShippingAddress))
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}
	var discountJSON []byte
	if o.Discount != nil {
		if discountJSON, err = json.Marshal(o.Discount); err != nil {
			return fmt.Errorf("marshaling applied discount: %w", err)
		}
	}
	reservation := o.Reservation
	if reservation == nil {
		reservation = []inventory.Line{}
	}
	reservationJSON, err := json.Marshal(reservation)
	if err != nil {
		return fmt.Errorf("marshaling reservation: %w", err)
	}

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, itemsJSON, addrJSON, o.Currency,
		o.Subtotal, discountJSON, o.ShippingCost, o.TaxAmount, o.Total, string(o.Status), reservationJSON,
		o.PaymentSessionID, o.PaymentReference, createdAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns an order. Identifiers that are not UUIDs cannot exist and
// report order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByCustomer returns a customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByCustomerSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListPendingBefore returns up to limit pending orders created before the
// given time, oldest first.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listPendingBeforeSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListUnreleased returns up to limit terminal orders still holding reserved
// stock, oldest first.
func (r *OrderRepository) ListUnreleased(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listUnreleasedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unreleased orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from, to order.Status, extra order.TransitionExtra) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, order.ErrNotFound
	}

	var resolvedAt *time.Time
	if !extra.ResolvedAt.IsZero() {
		resolvedAt = &extra.ResolvedAt
	}

	tag, err := r.pool.Exec(ctx, transitionOrderSQL, id, string(from), string(to), extra.PaymentReference, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("transitioning order %q to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *OrderRepository) AttachPaymentSession(ctx context.Context, id, sessionID string) error {
	tag, err := r.pool.Exec(ctx, attachSessionSQL, id, sessionID)
	if err != nil {
		return fmt.Errorf("attaching payment session to order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) SetFlag(ctx context.Context, id string, flag order.Flag, value bool) (bool, error) {
	var query string
	switch flag {
	case order.FlagDiscountCounted:
		query = setDiscountCountedSQL
	case order.FlagStockReleased:
		query = setStockReleasedSQL
	default:
		return false, errors.Errorf("unknown order flag %q", flag)
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, order.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, query, id, value)
	if err != nil {
		return false, fmt.Errorf("setting %s on order %q: %w", flag, id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *OrderRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                 order.Order
		status                            string
		itemsJSON, addrJSON, discountJSON []byte
		reservationJSON                   []byte
		addr                              addressJSON
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &itemsJSON, &addrJSON, &o.Currency, &o.Subtotal, &discountJSON,
		&o.ShippingCost, &o.TaxAmount, &o.Total, &status, &reservationJSON, &o.PaymentSessionID,
		&o.PaymentReference, &o.DiscountCounted, &o.StockReleased, &o.CreatedAt, &o.ResolvedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addrJSON, &addr); err != nil {
		return o, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	o.ShippingAddress = pricing.Address(addr)
	if len(discountJSON) > 0 {
		var applied discount.Applied
		if err := json.Unmarshal(discountJSON, &applied); err != nil {
			return o, fmt.Errorf("unmarshaling applied discount: %w", err)
		}
		o.Discount = &applied
	}
	if err := json.Unmarshal(reservationJSON, &o.Reservation); err != nil {
		return o, fmt.Errorf("unmarshaling reservation: %w", err)
	}
	return o, nil
}
