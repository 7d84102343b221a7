package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
)

type cartItemRequest struct {
	productID string
	size      string
	quantity  int
	hasQty    bool
}

func (h *Handler) decodeCartItem(w http.ResponseWriter, r *http.Request) (cartItemRequest, error) {
	var req cartItemRequest
	err := h.decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			return decodeString(d, &req.productID)
		case "size":
			return decodeString(d, &req.size)
		case "quantity":
			v, err := d.Int()
			req.quantity = v
			req.hasQty = true
			return err
		default:
			return d.Skip()
		}
	})
	return req, err
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, lines []cart.Line, err error) {
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	var e jx.Encoder
	encodeCart(&e, lines)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, customerID string) {
	lines, err := h.carts.Lines(r.Context(), customerID)
	h.respondCart(w, r, lines, err)
}

// addCartItem adds quantity units (default 1) to the cart.
func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request, customerID string) {
	req, err := h.decodeCartItem(w, r)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	if req.productID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "productId is required")
		return
	}
	if !req.hasQty {
		req.quantity = 1
	}
	lines, err := h.carts.Add(r.Context(), customerID, req.productID, req.size, req.quantity)
	h.respondCart(w, r, lines, err)
}

// setCartItem overwrites a line's quantity. Zero removes the line.
func (h *Handler) setCartItem(w http.ResponseWriter, r *http.Request, customerID string) {
	req, err := h.decodeCartItem(w, r)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	if !req.hasQty {
		writeError(w, http.StatusBadRequest, "invalid_request", "quantity is required")
		return
	}
	lines, err := h.carts.SetQuantity(r.Context(), customerID, r.PathValue("productId"), req.size, req.quantity)
	h.respondCart(w, r, lines, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request, customerID string) {
	ctx := r.Context()
	if err := h.carts.Remove(ctx, customerID, r.PathValue("productId"), r.URL.Query().Get("size")); err != nil {
		fail(ctx, w, err)
		return
	}
	lines, err := h.carts.Lines(ctx, customerID)
	h.respondCart(w, r, lines, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, customerID string) {
	if err := h.carts.Clear(r.Context(), customerID); err != nil {
		fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
