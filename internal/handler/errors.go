package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
)

// apiError is a mapped domain error.
type apiError struct {
	status    int
	code      string
	message   string
	productID string
}

var discountCodes = []struct {
	err  error
	code string
}{
	{discount.ErrNotFound, "discount_not_found"},
	{discount.ErrInactive, "discount_inactive"},
	{discount.ErrExpired, "discount_expired"},
	{discount.ErrExhausted, "discount_exhausted"},
	{discount.ErrMinimumNotMet, "discount_minimum_not_met"},
	{discount.ErrNotApplicable, "discount_not_applicable"},
}

// mapError converts domain errors to HTTP responses. It reports false for
// errors that are not part of the API contract.
func mapError(err error) (apiError, bool) {
	var (
		stockErr      *inventory.InsufficientStockError
		missingErr    *order.ProductNotFoundError
		transitionErr *order.InvalidTransitionError
		sessionErr    *payment.SessionCreationError
	)

	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrQuantityTooLarge),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidAddress):
		return apiError{status: http.StatusBadRequest, code: "invalid_request", message: err.Error()}, true
	case errors.Is(err, cart.ErrEmpty):
		return apiError{status: http.StatusBadRequest, code: "empty_cart", message: err.Error()}, true
	case errors.Is(err, customer.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "customer_not_found", message: err.Error()}, true
	case errors.Is(err, order.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: "order_not_found", message: err.Error()}, true
	case errors.Is(err, cart.ErrLineNotFound):
		return apiError{status: http.StatusNotFound, code: "cart_line_not_found", message: err.Error()}, true
	case errors.As(err, &stockErr):
		return apiError{
			status:    http.StatusConflict,
			code:      "insufficient_stock",
			message:   stockErr.Error(),
			productID: stockErr.ProductID,
		}, true
	case errors.As(err, &transitionErr):
		return apiError{status: http.StatusConflict, code: "invalid_status_transition", message: transitionErr.Error()}, true
	case errors.As(err, &missingErr):
		return apiError{
			status:    http.StatusUnprocessableEntity,
			code:      "product_not_found",
			message:   missingErr.Error(),
			productID: missingErr.ProductID,
		}, true
	case errors.Is(err, product.ErrNotFound):
		return apiError{status: http.StatusUnprocessableEntity, code: "product_not_found", message: err.Error()}, true
	case errors.As(err, &sessionErr):
		return apiError{status: http.StatusBadGateway, code: "payment_unavailable", message: "payment provider unavailable"}, true
	}

	for _, dc := range discountCodes {
		if errors.Is(err, dc.err) {
			return apiError{status: http.StatusUnprocessableEntity, code: dc.code, message: dc.err.Error()}, true
		}
	}
	return apiError{}, false
}

// fail writes the mapped error, or logs err and writes a bare 500.
func fail(ctx context.Context, w http.ResponseWriter, err error) {
	if e, ok := mapError(err); ok {
		if e.status == http.StatusBadGateway {
			zctx.From(ctx).Warn("Payment provider failed", zap.Error(err))
		}
		writeAPIError(w, e)
		return
	}
	zctx.From(ctx).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, apiError{status: status, code: code, message: message})
}

// writeAPIError writes {"code": status, "error": code, "message": ..., "productId"?}.
func writeAPIError(w http.ResponseWriter, e apiError) {
	var enc jx.Encoder
	enc.ObjStart()
	field(&enc, "code", func(enc *jx.Encoder) { enc.Int(e.status) })
	strField(&enc, "error", e.code)
	strField(&enc, "message", e.message)
	if e.productID != "" {
		strField(&enc, "productId", e.productID)
	}
	enc.ObjEnd()
	writeJSON(w, e.status, &enc)
}
