package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

func TestProductRepository_DecrementStockIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(product.Product{ID: "p1", Price: decimal.NewFromInt(5), Stock: 3})

	ok, err := repo.DecrementStock(ctx, "p1", 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.DecrementStock(ctx, "p1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementStock(ctx, "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.IncrementStock(ctx, "p1", 2))
	p, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)

	require.ErrorIs(t, repo.IncrementStock(ctx, "missing", 1), product.ErrNotFound)
}

func TestProductRepository_RestockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(
		product.Product{ID: "p1", Stock: 1},
		product.Product{ID: "p2", Stock: 1},
	)

	tests := []struct {
		name    string
		lines   []inventory.Line
		wantErr error
		want    map[string]int
	}{
		{
			name:    "unknown product returns nothing",
			lines:   []inventory.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "missing", Quantity: 1}},
			wantErr: product.ErrNotFound,
			want:    map[string]int{"p1": 1, "p2": 1},
		},
		{
			name:    "non-positive quantity",
			lines:   []inventory.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 0}},
			wantErr: inventory.ErrInvalidQuantity,
			want:    map[string]int{"p1": 1, "p2": 1},
		},
		{
			name:  "all lines",
			lines: []inventory.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}},
			want:  map[string]int{"p1": 3, "p2": 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Restock(ctx, tt.lines)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			for id, want := range tt.want {
				p, err := repo.GetByID(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, want, p.Stock, id)
			}
		})
	}
}

func TestProductRepository_ConcurrentDecrement(t *testing.T) {
	const stock, workers = 10, 64
	ctx := context.Background()
	repo := NewProductRepository(product.Product{ID: "p1", Stock: stock})

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := repo.DecrementStock(ctx, "p1", 1); ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, won.Load())
	p, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p.Stock)
}

func TestProductRepository_GetByIDsSkipsMissingAndDuplicates(t *testing.T) {
	repo := NewProductRepository(product.Product{ID: "a"}, product.Product{ID: "b"})

	got, err := repo.GetByIDs(context.Background(), []string{"b", "x", "a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestDiscountRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDiscountRepository(discount.Discount{
		ID: "d1", Code: "Save10", Kind: discount.KindPercentage, Value: decimal.NewFromInt(10),
		UsageLimit: 1, Active: true,
	})

	d, err := repo.FindByCode(ctx, "sAVE10")
	require.NoError(t, err)
	assert.Equal(t, "d1", d.ID)

	_, err = repo.FindByCode(ctx, "nope")
	require.ErrorIs(t, err, discount.ErrNotFound)

	d.UsedCount = 99
	again, err := repo.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Zero(t, again.UsedCount, "returned discounts are copies")

	err = repo.Upsert(ctx, discount.Discount{ID: "d2", Code: "SAVE10"})
	require.Error(t, err, "codes are unique regardless of case")
}

func TestDiscountRepository_LastUseIsClaimedOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewDiscountRepository(discount.Discount{ID: "d1", Code: "LAST", UsageLimit: 5, UsedCount: 4, Active: true})

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := repo.IncrementUsage(ctx, "d1"); err == nil && ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	assert.Equal(t, 5, repo.UsedCount("d1"))
}

func TestOrderRepository_TransitionStatusIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Create(ctx, &order.Order{ID: "o1", Status: order.StatusPending, CreatedAt: time.Now()}))
	require.Error(t, repo.Create(ctx, &order.Order{ID: "o1"}))

	resolved := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ok, err := repo.TransitionStatus(ctx, "o1", order.StatusPending, order.StatusProcessing, order.TransitionExtra{
		PaymentReference: "pi_1",
		ResolvedAt:       resolved,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(ctx, "o1", order.StatusPending, order.StatusPaymentFailed, order.TransitionExtra{})
	require.NoError(t, err)
	assert.False(t, ok)

	o, err := repo.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, o.Status)
	assert.Equal(t, "pi_1", o.PaymentReference)
	require.NotNil(t, o.ResolvedAt)
	assert.Equal(t, resolved, *o.ResolvedAt)

	_, err = repo.TransitionStatus(ctx, "missing", order.StatusPending, order.StatusProcessing, order.TransitionExtra{})
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_SetFlag(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Create(ctx, &order.Order{ID: "o1", Status: order.StatusPending}))

	ok, err := repo.SetFlag(ctx, "o1", order.FlagStockReleased, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetFlag(ctx, "o1", order.FlagStockReleased, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.SetFlag(ctx, "o1", order.FlagStockReleased, false)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.SetFlag(ctx, "o1", "bogus", true)
	require.Error(t, err)
}

func TestOrderRepository_ListPendingBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, st := range []order.Status{order.StatusPending, order.StatusProcessing, order.StatusPending, order.StatusPending} {
		require.NoError(t, repo.Create(ctx, &order.Order{
			ID:         string(rune('a' + i)),
			CustomerID: "c1",
			Status:     st,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := repo.ListPendingBefore(ctx, base.Add(150*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	got, err = repo.ListPendingBefore(ctx, base.Add(24*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	all, err := repo.ListByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID)
}

func TestOrderRepository_ListUnreleased(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	held := []inventory.Line{{ProductID: "p1", Quantity: 1}}

	for i, o := range []order.Order{
		{Status: order.StatusCancelled, Reservation: held},
		{Status: order.StatusPaymentFailed, Reservation: held},
		{Status: order.StatusPaymentFailed, Reservation: held, StockReleased: true},
		{Status: order.StatusPending, Reservation: held},
		{Status: order.StatusCancelled},
	} {
		o.ID = string(rune('a' + i))
		o.CustomerID = "c1"
		o.CreatedAt = base.Add(-time.Duration(i) * time.Hour)
		require.NoError(t, repo.Create(ctx, &o))
	}

	got, err := repo.ListUnreleased(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got, err = repo.ListUnreleased(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository()

	require.NoError(t, repo.Put(ctx, "c1", cart.Line{ProductID: "p1", Quantity: 1, Size: "M"}))
	require.NoError(t, repo.Put(ctx, "c1", cart.Line{ProductID: "p1", Quantity: 1, Size: "L"}))
	require.NoError(t, repo.Put(ctx, "c1", cart.Line{ProductID: "p1", Quantity: 3, Size: "M"}))

	lines, err := repo.Lines(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].Quantity)

	require.NoError(t, repo.Remove(ctx, "c1", "p1", "L"))
	require.ErrorIs(t, repo.Remove(ctx, "c1", "p1", "L"), cart.ErrLineNotFound)

	require.NoError(t, repo.Clear(ctx, "c1"))
	lines, err = repo.Lines(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartRepository_ConcurrentAdd(t *testing.T) {
	const workers = 50
	ctx := context.Background()
	repo := NewCartRepository()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Add(ctx, "c1", cart.Line{ProductID: "p1", Quantity: 2, Size: "M"}))
		}()
	}
	wg.Wait()

	lines, err := repo.Lines(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2*workers, lines[0].Quantity)
}

func TestCartRepository_AddBound(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository()
	line := func(qty int) cart.Line {
		return cart.Line{ProductID: "p1", Quantity: qty, UnitPrice: decimal.NewFromInt(int64(qty))}
	}

	require.ErrorIs(t, repo.Add(ctx, "c1", line(cart.MaxQuantity+1)), cart.ErrQuantityTooLarge)
	require.ErrorIs(t, repo.Add(ctx, "c1", line(0)), cart.ErrInvalidQuantity)
	require.NoError(t, repo.Add(ctx, "c1", line(cart.MaxQuantity-1)))
	require.ErrorIs(t, repo.Add(ctx, "c1", line(2)), cart.ErrQuantityTooLarge)
	require.NoError(t, repo.Add(ctx, "c1", line(1)))

	lines, err := repo.Lines(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, cart.MaxQuantity, lines[0].Quantity)
	assert.True(t, lines[0].UnitPrice.Equal(decimal.NewFromInt(1)), "price follows the latest add")
}

func TestEventLedger(t *testing.T) {
	ctx := context.Background()
	l := NewEventLedger()

	seen, err := l.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Record(ctx, order.ProcessedEvent{ID: "evt_1", Outcome: order.OutcomeApplied}))
	require.NoError(t, l.Record(ctx, order.ProcessedEvent{ID: "evt_1", Outcome: order.OutcomeDuplicate}))

	seen, err = l.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1, l.Len())
}
