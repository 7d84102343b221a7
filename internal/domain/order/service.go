package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// ErrInvalidAddress is returned when the shipping address lacks a required
// field.
var ErrInvalidAddress = errors.New("shipping address requires line1, city and country")

// ProductNotFoundError indicates a cart line references a product that is no
// longer in the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// OrderIDPlaceholder is replaced with the order id in redirect URLs.
const OrderIDPlaceholder = "{order_id}"

// Inventory reserves and releases stock for orders.
type Inventory interface {
	Reserve(ctx context.Context, lines []inventory.Line) ([]inventory.Line, error)
	Release(ctx context.Context, lines []inventory.Line) error
}

// CheckoutConfig holds the store-wide checkout settings.
type CheckoutConfig struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

// Deps are the collaborators of Service.
type Deps struct {
	Orders    Repository
	Products  product.Repository
	Customers customer.Repository
	Carts     cart.Repository
	Discounts discount.Repository
	Validator discount.Validator
	Inventory Inventory
	Gateway   payment.Gateway
	Pricing   pricing.Policy
	Checkout  CheckoutConfig
	// Optional.
	Metrics *Metrics
	Tracer  trace.Tracer
}

// PlaceOrderRequest is the caller-facing checkout input. Line items come
// from the customer's cart.
type PlaceOrderRequest struct {
	CustomerID      string
	ShippingAddress pricing.Address
	DiscountCode    string
}

// PlaceOrderResult is a placed order and where to send the customer to pay.
type PlaceOrderResult struct {
	Order       *Order
	RedirectURL string
}

// Quote is a priced cart that has not been turned into an order.
type Quote struct {
	Items     []Item
	Discount  *discount.Applied
	Breakdown pricing.Breakdown
	Currency  string
}

// Service orchestrates checkout and the order lifecycle.
type Service struct {
	orders    Repository
	products  product.Repository
	customers customer.Repository
	carts     cart.Repository
	discounts discount.Repository
	validator discount.Validator
	inventory Inventory
	gateway   payment.Gateway
	pricing   pricing.Policy
	checkout  CheckoutConfig
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService creates an order Service.
func NewService(deps Deps) *Service {
	s := &Service{
		orders:    deps.Orders,
		products:  deps.Products,
		customers: deps.Customers,
		carts:     deps.Carts,
		discounts: deps.Discounts,
		validator: deps.Validator,
		inventory: deps.Inventory,
		gateway:   deps.Gateway,
		pricing:   deps.Pricing,
		checkout:  deps.Checkout,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		now:       time.Now,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics()
	}
	if s.tracer == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if s.checkout.Currency == "" {
		s.checkout.Currency = "usd"
	}
	return s
}

// draft is a snapshotted and priced cart.
type draft struct {
	customerID string
	address    pricing.Address
	items      []Item
	discount   *discount.Applied
	breakdown  pricing.Breakdown
}

// Quote prices the customer's cart without reserving stock, creating an
// order or counting a discount use.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (*Quote, error) {
	d, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Items:     d.items,
		Discount:  d.discount,
		Breakdown: d.breakdown,
		Currency:  s.checkout.Currency,
	}, nil
}

// PlaceOrder turns the customer's cart into a Pending order with reserved
// stock and a payment session.
//
// Nothing is persisted when the cart, discount or stock checks fail. If the
// payment session cannot be created, the order is marked PaymentFailed and
// its stock released before the error is returned.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("customer.id", req.CustomerID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	d, err := s.prepare(ctx, req)
	if err != nil {
		s.metrics.orderPlaced(ctx, "rejected")
		return nil, err
	}

	reserved, err := s.inventory.Reserve(ctx, d.reservation())
	if err != nil {
		s.metrics.orderPlaced(ctx, "out_of_stock")
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:              uuid.New().String(),
		CustomerID:      d.customerID,
		Items:           d.items,
		ShippingAddress: d.address,
		Currency:        s.checkout.Currency,
		Subtotal:        d.breakdown.Subtotal,
		Discount:        d.discount,
		ShippingCost:    d.breakdown.Shipping,
		TaxAmount:       d.breakdown.Tax,
		Total:           d.breakdown.Total,
		Status:          StatusPending,
		Reservation:     reserved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	span.SetAttributes(attribute.String("order.id", o.ID))

	if err := s.orders.Create(ctx, o); err != nil {
		if releaseErr := s.inventory.Release(context.WithoutCancel(ctx), reserved); releaseErr != nil {
			lg.Error("Release stock after failed order insert", zap.Error(releaseErr))
		}
		s.metrics.orderPlaced(ctx, "error")
		return nil, errors.Wrap(err, "create order")
	}

	session, err := s.gateway.CreateSession(ctx, s.sessionRequest(o))
	if err != nil {
		lg.Warn("Payment session creation failed", zap.Error(err))
		s.abandon(context.WithoutCancel(ctx), o)
		s.metrics.orderPlaced(ctx, "payment_unavailable")
		return nil, err
	}
	o.PaymentSessionID = session.ID

	if err := s.orders.AttachPaymentSession(ctx, o.ID, session.ID); err != nil {
		// The gateway echoes the order id, so reconciliation does not depend
		// on the stored session id.
		lg.Error("Attach payment session", zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := s.carts.Clear(ctx, d.customerID); err != nil {
		lg.Error("Clear cart after checkout", zap.Error(err))
	}

	lg.Info("Order placed",
		zap.String("customer_id", o.CustomerID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("session_id", session.ID),
	)
	s.metrics.orderPlaced(ctx, "placed")

	return &PlaceOrderResult{Order: o, RedirectURL: session.RedirectURL}, nil
}

// abandon marks a just-created order PaymentFailed and returns its stock.
func (s *Service) abandon(ctx context.Context, o *Order) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	now := s.now()
	ok, err := s.orders.TransitionStatus(ctx, o.ID, StatusPending, StatusPaymentFailed, TransitionExtra{ResolvedAt: now})
	if err != nil {
		lg.Error("Mark order payment failed", zap.Error(err))
	}
	if ok {
		o.Status = StatusPaymentFailed
		o.ResolvedAt = &now
	}
	if err := s.releaseStock(ctx, o, "session_failed"); err != nil {
		lg.Error("Release stock after payment session failure", zap.Error(err))
	}
}

func (s *Service) sessionRequest(o *Order) payment.SessionRequest {
	lines := make([]payment.LineSummary, len(o.Items))
	for i, item := range o.Items {
		name := item.Name
		if item.Size != "" {
			name += " (" + item.Size + ")"
		}
		lines[i] = payment.LineSummary{
			Name:       name,
			Quantity:   item.Quantity,
			UnitAmount: payment.MinorUnits(item.UnitPrice),
		}
	}
	return payment.SessionRequest{
		OrderID:    o.ID,
		Amount:     o.Total,
		Currency:   o.Currency,
		Lines:      lines,
		SuccessURL: strings.ReplaceAll(s.checkout.SuccessURL, OrderIDPlaceholder, o.ID),
		CancelURL:  strings.ReplaceAll(s.checkout.CancelURL, OrderIDPlaceholder, o.ID),
		Metadata:   map[string]string{payment.MetadataOrderID: o.ID},
	}
}

// prepare snapshots the cart at current catalog prices, resolves the
// discount and prices the result.
func (s *Service) prepare(ctx context.Context, req PlaceOrderRequest) (*draft, error) {
	if err := validateAddress(req.ShippingAddress); err != nil {
		return nil, err
	}
	if _, err := s.customers.GetByID(ctx, req.CustomerID); err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, customer.ErrNotFound
		}
		return nil, errors.Wrap(err, "get customer")
	}

	lines, err := s.carts.Lines(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if len(lines) == 0 {
		return nil, cart.ErrEmpty
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, cart.ErrInvalidQuantity
		}
		ids[i] = l.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	catalog := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		catalog[p.ID] = p
	}

	d := &draft{
		customerID: req.CustomerID,
		address:    req.ShippingAddress,
		items:      make([]Item, 0, len(lines)),
	}
	priced := make([]pricing.Line, 0, len(lines))
	discountItems := make([]discount.Item, 0, len(lines))
	for _, l := range lines {
		p, ok := catalog[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		d.items = append(d.items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  l.Quantity,
			UnitPrice: p.Price,
			Size:      l.Size,
		})
		priced = append(priced, pricing.Line{
			ProductID: p.ID,
			Quantity:  l.Quantity,
			UnitPrice: p.Price,
			Weight:    p.Weight,
		})
		discountItems = append(discountItems, discount.Item{
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Price:      p.Price,
			Quantity:   l.Quantity,
		})
	}

	discountAmount := decimal.Zero
	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		applied, err := s.validator.Validate(ctx, code, pricing.Subtotal(priced), discountItems)
		if err != nil {
			return nil, errors.Wrap(err, "validate discount")
		}
		d.discount = applied
		discountAmount = applied.Amount
	}

	d.breakdown = s.pricing.Calculate(priced, req.ShippingAddress, discountAmount)
	return d, nil
}

func (d *draft) reservation() []inventory.Line {
	lines := make([]inventory.Line, len(d.items))
	for i, item := range d.items {
		lines[i] = inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

func validateAddress(a pricing.Address) error {
	if strings.TrimSpace(a.Line1) == "" ||
		strings.TrimSpace(a.City) == "" ||
		strings.TrimSpace(a.Country) == "" {
		return ErrInvalidAddress
	}
	return nil
}
