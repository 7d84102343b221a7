package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/discount"
)

const (
	discountColumns = `id, code, kind, value, min_purchase, usage_limit, used_count,
		valid_from, valid_until, active, product_ids, category_ids, description`

	findDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE LOWER(code) = LOWER($1)`

	incrementDiscountUsageSQL = `UPDATE discounts SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	upsertDiscountSQL = `INSERT INTO discounts (id, code, kind, value, min_purchase, usage_limit,
			valid_from, valid_until, active, product_ids, category_ids, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			min_purchase = EXCLUDED.min_purchase,
			usage_limit = EXCLUDED.usage_limit,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			active = EXCLUDED.active,
			product_ids = EXCLUDED.product_ids,
			category_ids = EXCLUDED.category_ids,
			description = EXCLUDED.description`

	insertDiscountCodeSQL = `INSERT INTO discounts (id, code, kind, value, min_purchase, usage_limit,
			valid_from, valid_until, active, product_ids, category_ids, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount by code, ignoring case.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, findDiscountByCodeSQL, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("finding discount %q: %w", code, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount %q: %w", code, err)
	}
	return &d, nil
}

// IncrementUsage records one use unless the usage limit is already reached.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, incrementDiscountUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("incrementing usage of discount %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert inserts or replaces a discount definition. The recorded usage count
// is kept.
func (r *DiscountRepository) Upsert(ctx context.Context, d discount.Discount) error {
	if _, err := r.pool.Exec(ctx, upsertDiscountSQL, discountArgs(d)...); err != nil {
		return fmt.Errorf("upserting discount %q: %w", d.Code, err)
	}
	return nil
}

// ImportCodes registers one discount per code, each a copy of template with a
// fresh ID. Codes that already exist are left untouched. It returns the number
// of discounts created.
func (r *DiscountRepository) ImportCodes(ctx context.Context, template discount.Discount, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, code := range codes {
		d := template
		d.ID = uuid.NewString()
		d.Code = code
		batch.Queue(insertDiscountCodeSQL, discountArgs(d)...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for _, code := range codes {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("importing discount %q: %w", code, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func discountArgs(d discount.Discount) []any {
	productIDs, categoryIDs := d.ProductIDs, d.CategoryIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	if categoryIDs == nil {
		categoryIDs = []string{}
	}
	return []any{
		d.ID, d.Code, string(d.Kind), d.Value, d.MinPurchase, d.UsageLimit,
		d.ValidFrom, d.ValidUntil, d.Active, productIDs, categoryIDs, d.Description,
	}
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d                 discount.Discount
		kind              string
		limit, used       int32
		validFrom, expiry *time.Time
	)
	err := row.Scan(
		&d.ID, &d.Code, &kind, &d.Value, &d.MinPurchase, &limit, &used,
		&validFrom, &expiry, &d.Active, &d.ProductIDs, &d.CategoryIDs, &d.Description,
	)
	d.Kind = discount.Kind(kind)
	d.UsageLimit = int(limit)
	d.UsedCount = int(used)
	d.ValidFrom = validFrom
	d.ValidUntil = expiry
	return d, err
}
