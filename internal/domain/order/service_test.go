package order_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/memory"
)

const webhookSecret = "whsec_test"

// --- Fakes ---

type fakeGateway struct {
	mu       sync.Mutex
	requests []payment.SessionRequest
	err      error
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{
		ID:          "cs_" + req.OrderID,
		RedirectURL: "https://pay.example.com/c/" + req.OrderID,
	}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type countingOrders struct {
	*memory.OrderRepository
	gets atomic.Int32
}

func (c *countingOrders) GetByID(ctx context.Context, id string) (*order.Order, error) {
	c.gets.Add(1)
	return c.OrderRepository.GetByID(ctx, id)
}

type flakyDiscounts struct {
	*memory.DiscountRepository
	failNext atomic.Bool
}

func (f *flakyDiscounts) IncrementUsage(ctx context.Context, id string) (bool, error) {
	if f.failNext.CompareAndSwap(true, false) {
		return false, errors.New("connection reset")
	}
	return f.DiscountRepository.IncrementUsage(ctx, id)
}

// flakyStock fails the next multi-line restock after the store has checked
// the first line.
type flakyStock struct {
	*memory.ProductRepository
	failNext atomic.Bool
}

func (f *flakyStock) Restock(ctx context.Context, lines []inventory.Line) error {
	if len(lines) > 1 && f.failNext.CompareAndSwap(true, false) {
		return errors.Errorf("restock %s: connection reset", lines[1].ProductID)
	}
	return f.ProductRepository.Restock(ctx, lines)
}

// --- Helpers ---

type env struct {
	products  *memory.ProductRepository
	flaky     *flakyStock
	carts     *memory.CartRepository
	discounts *flakyDiscounts
	orders    *countingOrders
	ledger    *memory.EventLedger
	gateway   *fakeGateway
	svc       *order.Service
	rec       *order.Reconciler
}

func newEnv(t *testing.T, products ...product.Product) *env {
	t.Helper()

	e := &env{
		products:  memory.NewProductRepository(products...),
		carts:     memory.NewCartRepository(),
		discounts: &flakyDiscounts{DiscountRepository: memory.NewDiscountRepository()},
		orders:    &countingOrders{OrderRepository: memory.NewOrderRepository()},
		ledger:    memory.NewEventLedger(),
		gateway:   &fakeGateway{},
	}
	e.flaky = &flakyStock{ProductRepository: e.products}
	customers := memory.NewCustomerRepository(
		customer.Customer{ID: "alice", Email: "alice@example.com"},
		customer.Customer{ID: "bob", Email: "bob@example.com"},
	)
	e.svc = order.NewService(order.Deps{
		Orders:    e.orders,
		Products:  e.products,
		Customers: customers,
		Carts:     e.carts,
		Discounts: e.discounts,
		Validator: discount.NewRepoValidator(e.discounts),
		Inventory: inventory.NewGatekeeper(e.flaky),
		Gateway:   e.gateway,
		Pricing: pricing.Policy{
			TaxRate:  decimal.RequireFromString("0.085"),
			TaxBase:  pricing.TaxPostDiscount,
			Shipping: pricing.FlatRate{Base: decimal.RequireFromString("4.99"), DomesticCountry: "US"}.Rule(),
		},
		Checkout: order.CheckoutConfig{
			Currency:   "usd",
			SuccessURL: "https://shop.example.com/orders/{order_id}?paid=1",
			CancelURL:  "https://shop.example.com/cart",
		},
	})
	e.rec = order.NewReconciler(e.svc, payment.NewVerifier(webhookSecret, time.Minute), e.ledger)
	return e
}

func (e *env) addToCart(t *testing.T, customerID, productID string, qty int) {
	t.Helper()
	p, err := e.products.GetByID(context.Background(), productID)
	require.NoError(t, err)
	require.NoError(t, e.carts.Put(context.Background(), customerID, cart.Line{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: p.Price,
	}))
}

func (e *env) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := e.products.GetByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (e *env) order(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := e.orders.OrderRepository.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (e *env) place(t *testing.T, customerID, code string) *order.PlaceOrderResult {
	t.Helper()
	res, err := e.svc.PlaceOrder(context.Background(), request(customerID, code))
	require.NoError(t, err)
	return res
}

func request(customerID, code string) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		CustomerID:      customerID,
		ShippingAddress: pricing.Address{Name: "A", Line1: "1 Main St", City: "Springfield", Country: "US"},
		DiscountCode:    code,
	}
}

func shirt(stock int) product.Product {
	return product.Product{
		ID:         "shirt",
		Name:       "Shirt",
		Price:      decimal.RequireFromString("25.00"),
		CategoryID: "apparel",
		Stock:      stock,
	}
}

func hat(stock int) product.Product {
	return product.Product{
		ID:         "hat",
		Name:       "Hat",
		Price:      decimal.RequireFromString("15.00"),
		CategoryID: "apparel",
		Stock:      stock,
	}
}

func save10() discount.Discount {
	return discount.Discount{
		ID:          "d-save10",
		Code:        "SAVE10",
		Kind:        discount.KindPercentage,
		Value:       decimal.NewFromInt(10),
		MinPurchase: decimal.NewFromInt(20),
		Active:      true,
	}
}

func event(id string, typ payment.EventType, orderID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":{"id":"cs_%s","payment_intent":"pi_%s","payment_status":"paid","metadata":{"order_id":%q}}}}`,
		id, typ, time.Now().Unix(), orderID, orderID, orderID))
}

func (e *env) deliver(t *testing.T, body []byte) order.Outcome {
	t.Helper()
	outcome, err := e.rec.Handle(context.Background(), body, payment.Sign(webhookSecret, time.Now(), body))
	require.NoError(t, err)
	return outcome
}

// --- Placement ---

func TestPlaceOrder_PricesDiscountsAndReserves(t *testing.T) {
	e := newEnv(t, shirt(10))
	require.NoError(t, e.discounts.Upsert(context.Background(), save10()))
	e.addToCart(t, "alice", "shirt", 2)

	res := e.place(t, "alice", "save10")

	o := res.Order
	assert.True(t, decimal.RequireFromString("50.00").Equal(o.Subtotal), "subtotal %s", o.Subtotal)
	assert.True(t, decimal.RequireFromString("5.00").Equal(o.DiscountAmount()), "discount %s", o.DiscountAmount())
	assert.True(t, decimal.RequireFromString("3.83").Equal(o.TaxAmount), "tax %s", o.TaxAmount)
	assert.True(t, decimal.RequireFromString("4.99").Equal(o.ShippingCost), "shipping %s", o.ShippingCost)
	assert.True(t, decimal.RequireFromString("53.82").Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, "SAVE10", o.Discount.Code)

	require.Equal(t, 1, e.gateway.calls())
	req := e.gateway.requests[0]
	assert.True(t, o.Total.Equal(req.Amount))
	assert.Equal(t, o.ID, req.Metadata[payment.MetadataOrderID])
	assert.Equal(t, "https://shop.example.com/orders/"+o.ID+"?paid=1", req.SuccessURL)
	assert.Equal(t, []payment.LineSummary{{Name: "Shirt", Quantity: 2, UnitAmount: 2500}}, req.Lines)
	assert.Equal(t, "https://pay.example.com/c/"+o.ID, res.RedirectURL)

	// Before any webhook the order is pending with stock decremented.
	stored := e.order(t, o.ID)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, "cs_"+o.ID, stored.PaymentSessionID)
	assert.Equal(t, []inventory.Line{{ProductID: "shirt", Quantity: 2}}, stored.Reservation)
	assert.Equal(t, 8, e.stock(t, "shirt"))

	// Usage is only counted once paid.
	assert.Zero(t, e.discounts.UsedCount("d-save10"))

	lines, err := e.carts.Lines(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestPlaceOrder_LocksCatalogPriceAtPlacement(t *testing.T) {
	e := newEnv(t, shirt(10))
	e.addToCart(t, "alice", "shirt", 1)

	p := shirt(10)
	p.Price = decimal.RequireFromString("30.00")
	require.NoError(t, e.products.Upsert(context.Background(), p))

	res := e.place(t, "alice", "")
	assert.True(t, decimal.RequireFromString("30.00").Equal(res.Order.Items[0].UnitPrice))

	p.Price = decimal.RequireFromString("99.00")
	require.NoError(t, e.products.Upsert(context.Background(), p))
	assert.True(t, decimal.RequireFromString("30.00").Equal(e.order(t, res.Order.ID).Items[0].UnitPrice))
}

func TestPlaceOrder_RejectionsLeaveNoTrace(t *testing.T) {
	expired := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		setup   func(t *testing.T, e *env)
		req     order.PlaceOrderRequest
		check   func(t *testing.T, err error)
		wantErr error
	}{
		{
			name:    "empty cart",
			req:     request("alice", ""),
			wantErr: cart.ErrEmpty,
		},
		{
			name: "unknown customer",
			setup: func(t *testing.T, e *env) {
				e.addToCart(t, "mallory", "shirt", 1)
			},
			req:     request("mallory", ""),
			wantErr: customer.ErrNotFound,
		},
		{
			name: "missing address",
			setup: func(t *testing.T, e *env) {
				e.addToCart(t, "alice", "shirt", 1)
			},
			req:     order.PlaceOrderRequest{CustomerID: "alice"},
			wantErr: order.ErrInvalidAddress,
		},
		{
			name: "unknown discount",
			setup: func(t *testing.T, e *env) {
				e.addToCart(t, "alice", "shirt", 1)
			},
			req:     request("alice", "NOPE"),
			wantErr: discount.ErrNotFound,
		},
		{
			name: "expired discount",
			setup: func(t *testing.T, e *env) {
				d := save10()
				d.ValidUntil = &expired
				require.NoError(t, e.discounts.Upsert(context.Background(), d))
				e.addToCart(t, "alice", "shirt", 1)
			},
			req:     request("alice", "SAVE10"),
			wantErr: discount.ErrExpired,
		},
		{
			name: "minimum not met",
			setup: func(t *testing.T, e *env) {
				d := save10()
				d.MinPurchase = decimal.NewFromInt(100)
				require.NoError(t, e.discounts.Upsert(context.Background(), d))
				e.addToCart(t, "alice", "shirt", 1)
			},
			req:     request("alice", "SAVE10"),
			wantErr: discount.ErrMinimumNotMet,
		},
		{
			name: "product removed from catalog",
			setup: func(t *testing.T, e *env) {
				require.NoError(t, e.carts.Put(context.Background(), "alice", cart.Line{ProductID: "ghost", Quantity: 1}))
			},
			req: request("alice", ""),
			check: func(t *testing.T, err error) {
				var pnf *order.ProductNotFoundError
				require.ErrorAs(t, err, &pnf)
				assert.Equal(t, "ghost", pnf.ProductID)
			},
		},
		{
			name: "insufficient stock",
			setup: func(t *testing.T, e *env) {
				e.addToCart(t, "alice", "shirt", 6)
			},
			req: request("alice", ""),
			check: func(t *testing.T, err error) {
				var stockErr *inventory.InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, "shirt", stockErr.ProductID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, shirt(5))
			if tt.setup != nil {
				tt.setup(t, e)
			}

			_, err := e.svc.PlaceOrder(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}

			assert.Equal(t, 5, e.stock(t, "shirt"))
			assert.Zero(t, e.gateway.calls())
			orders, err := e.svc.List(context.Background(), tt.req.CustomerID)
			require.NoError(t, err)
			assert.Empty(t, orders)
		})
	}
}

func TestPlaceOrder_GatewayFailureCompensates(t *testing.T) {
	e := newEnv(t, shirt(3))
	e.gateway.err = &payment.SessionCreationError{StatusCode: 503, Err: errors.New("unavailable")}
	e.addToCart(t, "alice", "shirt", 2)

	_, err := e.svc.PlaceOrder(context.Background(), request("alice", ""))

	var sessionErr *payment.SessionCreationError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, 3, e.stock(t, "shirt"))

	orders, err := e.svc.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusPaymentFailed, orders[0].Status)
	assert.True(t, orders[0].StockReleased)
	assert.NotNil(t, orders[0].ResolvedAt)

	// The cart survives so the customer can retry.
	lines, err := e.carts.Lines(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestPlaceOrder_LastUnitRace(t *testing.T) {
	e := newEnv(t, shirt(1))
	e.addToCart(t, "alice", "shirt", 1)
	e.addToCart(t, "bob", "shirt", 1)

	var (
		wg      sync.WaitGroup
		results [2]error
	)
	for i, id := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = e.svc.PlaceOrder(context.Background(), request(id, ""))
		}()
	}
	wg.Wait()

	var succeeded, outOfStock int
	for _, err := range results {
		var stockErr *inventory.InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &stockErr):
			outOfStock++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, outOfStock)
	assert.Zero(t, e.stock(t, "shirt"))
}

func TestPlaceOrder_ConcurrentPlacementsNeverOversell(t *testing.T) {
	const (
		stock     = 5
		customers = 40
	)
	e := newEnv(t, shirt(stock))
	cs := memory.NewCustomerRepository()
	for i := range customers {
		require.NoError(t, cs.Upsert(context.Background(), customer.Customer{ID: fmt.Sprintf("c%d", i)}))
	}
	svc := order.NewService(order.Deps{
		Orders:    e.orders,
		Products:  e.products,
		Customers: cs,
		Carts:     e.carts,
		Discounts: e.discounts,
		Validator: discount.NewRepoValidator(e.discounts),
		Inventory: inventory.NewGatekeeper(e.products),
		Gateway:   e.gateway,
		Pricing:   pricing.Policy{Shipping: pricing.FlatRate{}.Rule()},
	})
	for i := range customers {
		e.addToCart(t, fmt.Sprintf("c%d", i), "shirt", 1)
	}

	var (
		wg         sync.WaitGroup
		placed     atomic.Int32
		outOfStock atomic.Int32
	)
	for i := range customers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), request(fmt.Sprintf("c%d", i), ""))
			var stockErr *inventory.InsufficientStockError
			switch {
			case err == nil:
				placed.Add(1)
			case errors.As(err, &stockErr):
				outOfStock.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, placed.Load())
	assert.EqualValues(t, customers-stock, outOfStock.Load())
	assert.Zero(t, e.stock(t, "shirt"))
	assert.Equal(t, stock, e.gateway.calls())
}

func TestQuote_HasNoSideEffects(t *testing.T) {
	e := newEnv(t, shirt(10))
	require.NoError(t, e.discounts.Upsert(context.Background(), save10()))
	e.addToCart(t, "alice", "shirt", 2)

	q, err := e.svc.Quote(context.Background(), request("alice", "SAVE10"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("53.82").Equal(q.Breakdown.Total))
	assert.Equal(t, "usd", q.Currency)

	assert.Equal(t, 10, e.stock(t, "shirt"))
	assert.Zero(t, e.gateway.calls())
	assert.Zero(t, e.discounts.UsedCount("d-save10"))

	res := e.place(t, "alice", "SAVE10")
	assert.True(t, q.Breakdown.Total.Equal(res.Order.Total))
}

// --- Administrative progression ---

func TestUpdateStatus(t *testing.T) {
	e := newEnv(t, shirt(10))
	e.addToCart(t, "alice", "shirt", 3)
	res := e.place(t, "alice", "")
	ctx := context.Background()

	_, err := e.svc.UpdateStatus(ctx, res.Order.ID, order.StatusProcessing)
	var transErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, order.StatusPending, transErr.From)

	require.Equal(t, order.OutcomeApplied, e.deliver(t, event("evt_1", payment.EventSessionCompleted, res.Order.ID)))

	o, err := e.svc.UpdateStatus(ctx, res.Order.ID, order.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, o.Status)

	o, err = e.svc.UpdateStatus(ctx, res.Order.ID, order.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, o.Status)
	assert.True(t, o.Status.Terminal())

	_, err = e.svc.UpdateStatus(ctx, res.Order.ID, order.StatusCancelled)
	require.ErrorAs(t, err, &transErr)

	_, err = e.svc.UpdateStatus(ctx, "missing", order.StatusCancelled)
	require.ErrorIs(t, err, order.ErrNotFound)

	assert.Equal(t, 7, e.stock(t, "shirt"))
}

func TestUpdateStatus_CancelReleasesStockOnce(t *testing.T) {
	e := newEnv(t, shirt(10))
	e.addToCart(t, "alice", "shirt", 4)
	res := e.place(t, "alice", "")
	require.Equal(t, 6, e.stock(t, "shirt"))

	o, err := e.svc.UpdateStatus(context.Background(), res.Order.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.True(t, o.StockReleased)
	assert.Equal(t, 10, e.stock(t, "shirt"))

	// A late failure event finds nothing to undo.
	assert.Equal(t, order.OutcomeStale, e.deliver(t, event("evt_late", payment.EventSessionExpired, res.Order.ID)))
	assert.Equal(t, 10, e.stock(t, "shirt"))
}

func TestGet_RestrictsToOwner(t *testing.T) {
	e := newEnv(t, shirt(10))
	e.addToCart(t, "alice", "shirt", 1)
	res := e.place(t, "alice", "")

	_, err := e.svc.Get(context.Background(), res.Order.ID, "bob")
	require.ErrorIs(t, err, order.ErrNotFound)

	o, err := e.svc.Get(context.Background(), res.Order.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, o.ID)
}

func TestParseStatus(t *testing.T) {
	s, err := order.ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, s)

	_, err = order.ParseStatus("lost")
	require.Error(t, err)

	assert.True(t, order.CanTransition(order.StatusPending, order.StatusProcessing))
	assert.False(t, order.CanTransition(order.StatusCancelled, order.StatusPending))
	assert.False(t, order.CanTransition(order.StatusProcessing, order.StatusPaymentFailed))
}
