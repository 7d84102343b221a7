// Package gateway is the HTTP adapter for the hosted payment gateway.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront/internal/domain/payment"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Config configures the gateway client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client creates checkout sessions over the gateway's REST API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

var _ payment.Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTransportInstrumentation wraps the client transport with OpenTelemetry
// instrumentation.
func WithTransportInstrumentation(opts ...otelhttp.Option) Option {
	return func(cl *Client) {
		base := cl.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		cl.http.Transport = otelhttp.NewTransport(base, opts...)
	}
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession requests a hosted checkout session. The order id is sent as
// the idempotency key, so retrying the same order never creates a second
// session. Every failure is a *payment.SessionCreationError.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	body := encodeSessionRequest(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, &payment.SessionCreationError{Err: errors.Wrap(err, "build request")}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.OrderID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &payment.SessionCreationError{Err: errors.Wrap(err, "send request")}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &payment.SessionCreationError{
			StatusCode: resp.StatusCode,
			Err:        errors.Errorf("gateway rejected session: %s", errorMessage(msg)),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &payment.SessionCreationError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}
	session, err := decodeSession(raw)
	if err != nil {
		return nil, &payment.SessionCreationError{StatusCode: resp.StatusCode, Err: err}
	}
	return session, nil
}

func encodeSessionRequest(req payment.SessionRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("mode")
	e.Str("payment")
	e.FieldStart("currency")
	e.Str(strings.ToLower(req.Currency))
	e.FieldStart("amount_total")
	e.Int64(payment.MinorUnits(req.Amount))
	e.FieldStart("client_reference_id")
	e.Str(req.OrderID)
	e.FieldStart("success_url")
	e.Str(req.SuccessURL)
	e.FieldStart("cancel_url")
	e.Str(req.CancelURL)

	e.FieldStart("line_items")
	e.ArrStart()
	for _, l := range req.Lines {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unit_amount")
		e.Int64(l.UnitAmount)
		e.ObjEnd()
	}
	e.ArrEnd()

	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.FieldStart("metadata")
	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		e.Str(req.Metadata[k])
	}
	e.ObjEnd()

	e.ObjEnd()
	return e.Bytes()
}

func decodeSession(raw []byte) (*payment.Session, error) {
	var s payment.Session
	if err := jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := optString(d)
			s.ID = v
			return err
		case "url":
			v, err := optString(d)
			s.RedirectURL = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if s.ID == "" || s.RedirectURL == "" {
		return nil, errors.New("session response lacks id or url")
	}
	return &s, nil
}

// errorMessage extracts error.message from a gateway error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var msg string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "message" {
				return d.Skip()
			}
			v, err := optString(d)
			msg = v
			return err
		})
	})
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return msg
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() != jx.String {
		return "", d.Skip()
	}
	return d.Str()
}
