package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/payment"
)

// paymentWebhook hands the raw body to the reconciler. Authenticated events
// are acknowledged with 200 whatever their outcome, so the gateway stops
// redelivering them; storage failures return 503 so it retries.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := h.readBody(w, r)
	if err != nil {
		fail(ctx, w, err)
		return
	}

	outcome, err := h.reconciler.Handle(ctx, body, r.Header.Get(payment.SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		return
	case err != nil:
		zctx.From(ctx).Error("Payment event not processed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "retry_later", "event could not be processed")
		return
	}

	var e jx.Encoder
	e.ObjStart()
	field(&e, "received", func(e *jx.Encoder) { e.Bool(true) })
	strField(&e, "outcome", string(outcome))
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
