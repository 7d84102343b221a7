// Package handler exposes the storefront over HTTP.
//
// Shoppers are identified by the X-Customer-ID header, set by the
// authenticating proxy in front of the service. Admin routes require a bearer
// token. Request and response bodies are JSON, encoded with jx; money is
// rendered as a decimal string with two places.
package handler

import (
	"net/http"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// CustomerHeader carries the authenticated customer id.
const CustomerHeader = "X-Customer-ID"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// AdminToken guards /api/admin routes. Empty disables them.
	AdminToken string
	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the storefront API.
type Handler struct {
	products   product.Repository
	carts      *cart.Service
	orders     *order.Service
	reconciler *order.Reconciler
	admin      *adminGuard
	maxBody    int64
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	carts *cart.Service,
	orders *order.Service,
	reconciler *order.Reconciler,
) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		products:   products,
		carts:      carts,
		orders:     orders,
		reconciler: reconciler,
		admin:      newAdminGuard(cfg.AdminToken),
		maxBody:    maxBody,
	}
}

// Routes registers every endpoint on a new ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.HandleFunc("GET /api/cart", h.customer(h.getCart))
	mux.HandleFunc("POST /api/cart/items", h.customer(h.addCartItem))
	mux.HandleFunc("PUT /api/cart/items/{productId}", h.customer(h.setCartItem))
	mux.HandleFunc("DELETE /api/cart/items/{productId}", h.customer(h.removeCartItem))
	mux.HandleFunc("DELETE /api/cart", h.customer(h.clearCart))

	mux.HandleFunc("POST /api/checkout/quote", h.customer(h.quote))
	mux.HandleFunc("POST /api/checkout", h.customer(h.checkout))

	mux.HandleFunc("GET /api/orders", h.customer(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.customer(h.getOrder))

	mux.HandleFunc("PATCH /api/admin/orders/{id}", h.admin.wrap(h.updateOrderStatus))

	mux.HandleFunc("POST /api/webhooks/payment", h.paymentWebhook)

	return mux
}

type customerHandler func(w http.ResponseWriter, r *http.Request, customerID string)

// customer rejects requests without a customer identity.
func (h *Handler) customer(next customerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CustomerHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+CustomerHeader+" header")
			return
		}
		next(w, r, id)
	}
}

// CustomerKey is a rate limit key function: customers are limited by id,
// anonymous callers by address. Gateway webhooks are never limited.
func CustomerKey(r *http.Request) string {
	if r.URL.Path == "/api/webhooks/payment" {
		return ""
	}
	if id := r.Header.Get(CustomerHeader); id != "" {
		return "customer:" + id
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
