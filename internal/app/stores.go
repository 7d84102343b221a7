package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/memory"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/internal/seed"
	"github.com/xenking/storefront/pkg/health"
)

type (
	productStore interface {
		product.Repository
		inventory.Stock
		seed.ProductWriter
	}
	customerStore interface {
		customer.Repository
		seed.CustomerWriter
	}
	discountStore interface {
		discount.Repository
		seed.DiscountWriter
	}
)

// stores is one backend's set of repositories.
type stores struct {
	products  productStore
	customers customerStore
	discounts discountStore
	carts     cart.Repository
	orders    order.Repository
	ledger    order.EventLedger
	close     func()
}

// openStores builds the configured backend. The PostgreSQL backend is
// migrated and registered as a readiness check.
func openStores(ctx context.Context, cfg *Config, h *health.Health) (*stores, error) {
	if cfg.Storage == StorageMemory {
		return &stores{
			products:  memory.NewProductRepository(),
			customers: memory.NewCustomerRepository(),
			discounts: memory.NewDiscountRepository(),
			carts:     memory.NewCartRepository(),
			orders:    memory.NewOrderRepository(),
			ledger:    memory.NewEventLedger(),
			close:     func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	return &stores{
		products:  repository.NewProductRepository(pool),
		customers: repository.NewCustomerRepository(pool),
		discounts: repository.NewDiscountRepository(pool),
		carts:     repository.NewCartRepository(pool),
		orders:    repository.NewOrderRepository(pool),
		ledger:    repository.NewEventLedger(pool),
		close:     pool.Close,
	}, nil
}
