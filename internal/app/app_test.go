package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront/internal/domain/payment"
)

const (
	testWebhookSecret = "whsec_app_test"
	testAdminToken    = "admin-secret"
)

type testServer struct {
	t       *testing.T
	baseURL string
	client  *http.Client
}

// startServer runs the whole application on an ephemeral port with memory
// storage, the sample catalog and a stub payment provider.
func startServer(t *testing.T) *testServer {
	t.Helper()
	return startServerWithLogger(t, zaptest.NewLogger(t))
}

func startServerWithLogger(t *testing.T, lg *zap.Logger) *testServer {
	t.Helper()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":"cs_%s","url":"https://pay.example.com/c/%s"}`, id, id)
	}))
	t.Cleanup(provider.Close)

	cfg := &Config{
		Storage:    StorageMemory,
		SeedFile:   "../../db/seed/catalog.json",
		AdminToken: testAdminToken,
		Checkout: CheckoutConfig{
			Currency:   "usd",
			TaxRate:    "0",
			TaxBase:    "post_discount",
			SuccessURL: "https://shop.example.com/orders/{order_id}",
			CancelURL:  "https://shop.example.com/cart",
		},
		Shipping: ShippingConfig{DomesticCountry: "US"},
		Payment: PaymentConfig{
			BaseURL:            provider.URL,
			WebhookSecret:      testWebhookSecret,
			SignatureTolerance: 5 * time.Minute,
			Timeout:            2 * time.Second,
		},
		Sweep:     SweepConfig{Enabled: true, Interval: time.Hour, PendingTTL: time.Hour, BatchSize: 10},
		RateLimit: RateLimitConfig{Max: 1000, Window: time.Minute},
		Graceful:  GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(zctx.Base(context.Background(), lg))
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, lg, telemetry{
			meters:  metricnoop.NewMeterProvider(),
			tracers: tracenoop.NewTracerProvider(),
		}, cfg, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	s := &testServer{
		t:       t,
		baseURL: "http://" + ln.Addr().String(),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	require.Eventually(t, func() bool {
		resp, err := s.client.Get(s.baseURL + "/readyz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	return s
}

func (s *testServer) do(method, path string, header map[string]string, body []byte) (*http.Response, map[string]any) {
	s.t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, s.baseURL+path, bytes.NewReader(body))
	require.NoError(s.t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(s.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (s *testServer) asCustomer(method, path, customerID string, body string) (*http.Response, map[string]any) {
	return s.do(method, path, map[string]string{"X-Customer-ID": customerID}, []byte(body))
}

func TestRun_Probes(t *testing.T) {
	s := startServer(t)

	resp, body := s.do(http.MethodGet, "/livez", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = s.do(http.MethodGet, "/livez", map[string]string{"X-Request-ID": "custom-request-id-12345"}, nil)
	assert.Equal(t, "custom-request-id-12345", resp.Header.Get("X-Request-ID"))
}

func TestRun_SweeperStartLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	startServerWithLogger(t, zap.New(core))

	started := func() int {
		return logs.FilterMessageSnippet("weeper started").Len()
	}
	require.Eventually(t, func() bool { return started() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, started())

	entry := logs.FilterMessageSnippet("weeper started").All()[0]
	assert.Equal(t, "sweeper", entry.LoggerName)
	assert.Equal(t, "Pending order sweeper started", entry.Message)
}

func TestRun_CheckoutAndPayment(t *testing.T) {
	s := startServer(t)

	resp, _ := s.asCustomer(http.MethodPost, "/api/cart/items", "cust-alice", `{"productId":"tee-classic","quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	const checkout = `{"discountCode":"save10","shippingAddress":{"line1":"1 Main St","city":"Springfield","country":"US"}}`
	resp, body := s.asCustomer(http.MethodPost, "/api/checkout", "cust-alice", checkout)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	orderID, _ := body["orderId"].(string)
	require.NotEmpty(t, orderID)
	assert.Equal(t, "https://pay.example.com/c/"+orderID, body["redirectUrl"])
	placed := body["order"].(map[string]any)
	assert.Equal(t, "pending", placed["status"])
	assert.Equal(t, "45.00", placed["total"])

	// The cart is emptied once the order exists.
	_, cartBody := s.asCustomer(http.MethodGet, "/api/cart", "cust-alice", "")
	assert.Empty(t, cartBody["items"])

	_, product := s.do(http.MethodGet, "/api/products/tee-classic", nil, nil)
	assert.EqualValues(t, 118, product["stock"])

	event := []byte(fmt.Sprintf(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_%s","payment_intent":"pi_1","payment_status":"paid","metadata":{"order_id":"%s"}}}}`, orderID, orderID))
	sig := payment.Sign(testWebhookSecret, time.Now(), event)

	resp, body = s.do(http.MethodPost, "/api/webhooks/payment", map[string]string{payment.SignatureHeader: sig}, event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", body["outcome"])

	resp, body = s.do(http.MethodPost, "/api/webhooks/payment", map[string]string{payment.SignatureHeader: sig}, event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["outcome"])

	resp, _ = s.do(http.MethodPost, "/api/webhooks/payment", map[string]string{payment.SignatureHeader: "t=1,v1=00"}, event)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, got := s.asCustomer(http.MethodGet, "/api/orders/"+orderID, "cust-alice", "")
	assert.Equal(t, "processing", got["status"])
	assert.Equal(t, "pi_1", got["paymentReference"])

	// Only the owner sees the order.
	resp, _ = s.asCustomer(http.MethodGet, "/api/orders/"+orderID, "cust-bob", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	auth := map[string]string{"Authorization": "Bearer " + testAdminToken}
	resp, body = s.do(http.MethodPatch, "/api/admin/orders/"+orderID, auth, []byte(`{"status":"shipped"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "shipped", body["status"])
}

func TestRun_CheckoutRejections(t *testing.T) {
	s := startServer(t)
	const address = `"shippingAddress":{"line1":"1 Main St","city":"Springfield","country":"US"}`

	resp, body := s.asCustomer(http.MethodPost, "/api/checkout", "cust-bob", `{`+address+`}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty_cart", body["code"])

	resp, _ = s.asCustomer(http.MethodPost, "/api/cart/items", "cust-bob", `{"productId":"poster-limited","quantity":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.asCustomer(http.MethodPost, "/api/checkout", "cust-bob", `{`+address+`}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_stock", body["code"])
	assert.Equal(t, "poster-limited", body["productId"])

	resp, body = s.asCustomer(http.MethodPost, "/api/checkout", "cust-bob", `{"discountCode":"SUMMER",`+address+`}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "discount_inactive", body["code"])

	resp, _ = s.do(http.MethodGet, "/api/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
