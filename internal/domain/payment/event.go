package payment

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// EventType is the gateway event type.
type EventType string

const (
	EventSessionCompleted      EventType = "checkout.session.completed"
	EventAsyncPaymentSucceeded EventType = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    EventType = "checkout.session.async_payment_failed"
	EventSessionExpired        EventType = "checkout.session.expired"
)

// PaymentStatusPaid is the session payment status of a captured payment.
const PaymentStatusPaid = "paid"

// ErrMalformedEvent is returned by ParseEvent for payloads that are not a
// gateway event.
var ErrMalformedEvent = errors.New("malformed payment event")

// Event is an authenticated gateway notification about a payment session.
type Event struct {
	ID               string
	Type             EventType
	Created          time.Time
	SessionID        string
	PaymentReference string
	PaymentStatus    string
	Metadata         map[string]string
}

// OrderID returns the order id echoed back in the session metadata.
func (e *Event) OrderID() string {
	return e.Metadata[MetadataOrderID]
}

// Completed reports whether the event confirms a captured payment. A
// completed session with a delayed payment method is not paid yet; its
// outcome arrives later as an async event.
func (e *Event) Completed() bool {
	switch e.Type {
	case EventSessionCompleted:
		return e.PaymentStatus == "" || e.PaymentStatus == PaymentStatusPaid
	case EventAsyncPaymentSucceeded:
		return true
	default:
		return false
	}
}

// Failed reports whether the event means the session will never be paid.
func (e *Event) Failed() bool {
	return e.Type == EventAsyncPaymentFailed || e.Type == EventSessionExpired
}

// ParseEvent decodes a gateway event body of the form
//
//	{"id":"evt_..","type":"..","created":1700000000,
//	 "data":{"object":{"id":"cs_..","payment_intent":"pi_..",
//	   "payment_status":"paid","metadata":{"order_id":".."}}}}
//
// Unknown fields are skipped.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeString(d, &ev.ID)
		case "type":
			var s string
			if err := decodeString(d, &s); err != nil {
				return err
			}
			ev.Type = EventType(s)
			return nil
		case "created":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			sec, err := d.Int64()
			if err != nil {
				return err
			}
			ev.Created = time.Unix(sec, 0).UTC()
			return nil
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" {
					return d.Skip()
				}
				return decodeSession(d, &ev)
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing id or type")
	}
	return &ev, nil
}

func decodeSession(d *jx.Decoder, ev *Event) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeString(d, &ev.SessionID)
		case "payment_intent":
			return decodeString(d, &ev.PaymentReference)
		case "payment_status":
			return decodeString(d, &ev.PaymentStatus)
		case "metadata":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			ev.Metadata = make(map[string]string)
			return d.Obj(func(d *jx.Decoder, key string) error {
				var v string
				if err := decodeString(d, &v); err != nil {
					return err
				}
				ev.Metadata[key] = v
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// decodeString reads a string value, treating null and other types as empty.
func decodeString(d *jx.Decoder, dst *string) error {
	if d.Next() != jx.String {
		return d.Skip()
	}
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}
