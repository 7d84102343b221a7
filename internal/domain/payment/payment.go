// Package payment defines the payment-gateway port and the signed event
// format the gateway delivers when a session resolves.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// MetadataOrderID is the metadata key carrying the order id through the
// gateway and back in its events.
const MetadataOrderID = "order_id"

// LineSummary is a display line on the hosted payment page.
type LineSummary struct {
	Name     string
	Quantity int
	// UnitAmount is in minor currency units.
	UnitAmount int64
}

// SessionRequest asks the gateway for a hosted payment session.
type SessionRequest struct {
	OrderID    string
	Amount     decimal.Decimal
	Currency   string
	Lines      []LineSummary
	SuccessURL string
	CancelURL  string
	// Metadata is echoed back verbatim on every event for the session.
	Metadata map[string]string
}

// Session is a created payment session.
type Session struct {
	ID          string
	RedirectURL string
}

// Gateway creates payment sessions.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// SessionCreationError is the single failure type of Gateway.CreateSession.
// StatusCode is zero for transport failures.
type SessionCreationError struct {
	StatusCode int
	Err        error
}

func (e *SessionCreationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment session creation failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment session creation failed: %v", e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// MinorUnits converts an amount to minor currency units, rounding half away
// from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
