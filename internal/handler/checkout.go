package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) decodeCheckout(w http.ResponseWriter, r *http.Request, customerID string) (order.PlaceOrderRequest, error) {
	req := order.PlaceOrderRequest{CustomerID: customerID}
	err := h.decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "shippingAddress":
			return decodeAddress(d, &req.ShippingAddress)
		case "discountCode":
			return decodeString(d, &req.DiscountCode)
		default:
			return d.Skip()
		}
	})
	return req, err
}

// quote prices the cart without side effects.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request, customerID string) {
	req, err := h.decodeCheckout(w, r, customerID)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	q, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	strField(&e, "currency", q.Currency)
	encodeItems(&e, q.Items)
	encodeDiscount(&e, q.Discount)
	encodeBreakdown(&e, q.Breakdown)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// checkout places the order and returns where to pay for it.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, customerID string) {
	req, err := h.decodeCheckout(w, r, customerID)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	strField(&e, "orderId", res.Order.ID)
	strField(&e, "redirectUrl", res.RedirectURL)
	field(&e, "order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
	e.ObjEnd()

	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, http.StatusCreated, &e)
}
