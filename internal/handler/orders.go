package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, customerID string) {
	orders, err := h.orders.List(r.Context(), customerID)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for i := range orders {
		encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, customerID string) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"), customerID)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var raw string
	err := h.decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			return decodeString(d, &raw)
		}
		return d.Skip()
	})
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	to, err := order.ParseStatus(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), to)
	if err != nil {
		fail(r.Context(), w, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}
