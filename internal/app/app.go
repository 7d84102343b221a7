package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/gateway"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/seed"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const instrumentationName = "github.com/xenking/storefront"

// Run creates all dependencies, starts the HTTP server and the pending order
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return run(ctx, lg, telemetry{
		meters:  m.MeterProvider(),
		tracers: m.TracerProvider(),
	}, cfg, ln)
}

// telemetry is the subset of *app.Telemetry the application uses.
type telemetry struct {
	meters  metric.MeterProvider
	tracers trace.TracerProvider
}

func run(ctx context.Context, lg *zap.Logger, m telemetry, cfg *Config, ln net.Listener) error {
	defer func() { _ = ln.Close() }()

	lg.Info("Initializing",
		zap.String("addr", ln.Addr().String()),
		zap.String("storage", cfg.Storage),
	)

	policy, err := cfg.PricingPolicy()
	if err != nil {
		return errors.Wrap(err, "pricing policy")
	}

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, err := openStores(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer st.close()

	if cfg.SeedFile != "" {
		catalog, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return errors.Wrap(err, "load seed")
		}
		sum, err := seed.Apply(ctx, catalog, seed.Stores{
			Products:  st.products,
			Customers: st.customers,
			Discounts: st.discounts,
		})
		if err != nil {
			return errors.Wrap(err, "apply seed")
		}
		lg.Info("Seed applied",
			zap.String("file", cfg.SeedFile),
			zap.Int("products", sum.Products),
			zap.Int("customers", sum.Customers),
			zap.Int("discounts", sum.Discounts),
		)
	}

	metrics, err := order.NewMetrics(m.meters.Meter(instrumentationName))
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	paymentGateway := gateway.New(gateway.Config{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: cfg.Payment.Timeout,
	}, gateway.WithTransportInstrumentation(
		otelhttp.WithTracerProvider(m.tracers),
		otelhttp.WithMeterProvider(m.meters),
	))

	if cfg.Payment.WebhookSecret == "" {
		lg.Warn("Webhook secret is not set, every payment event will be rejected")
	}

	// Domain services.
	orderService := order.NewService(order.Deps{
		Orders:    st.orders,
		Products:  st.products,
		Customers: st.customers,
		Carts:     st.carts,
		Discounts: st.discounts,
		Validator: discount.NewRepoValidator(st.discounts),
		Inventory: inventory.NewGatekeeper(st.products),
		Gateway:   paymentGateway,
		Pricing:   policy,
		Checkout: order.CheckoutConfig{
			Currency:   cfg.Checkout.Currency,
			SuccessURL: cfg.Checkout.SuccessURL,
			CancelURL:  cfg.Checkout.CancelURL,
		},
		Metrics: metrics,
		Tracer:  m.tracers.Tracer(instrumentationName),
	})
	reconciler := order.NewReconciler(orderService,
		payment.NewVerifier(cfg.Payment.WebhookSecret, cfg.Payment.SignatureTolerance),
		st.ledger,
	)
	cartService := cart.NewService(st.carts, st.products, st.customers)

	h := handler.New(handler.Config{AdminToken: cfg.AdminToken},
		st.products, cartService, orderService, reconciler,
	)

	mux := h.Routes()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.RequestID(),
				httpmiddleware.LogRequests(),
				httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
					Max:     cfg.RateLimit.Max,
					Window:  cfg.RateLimit.Window,
					KeyFunc: handler.CustomerKey,
				}),
			),
			"shop-api",
			otelhttp.WithTracerProvider(m.tracers),
			otelhttp.WithMeterProvider(m.meters),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Sweep.Enabled {
		sweeper := order.NewSweeper(orderService, order.SweeperConfig{
			Interval:   cfg.Sweep.Interval,
			PendingTTL: cfg.Sweep.PendingTTL,
			BatchSize:  cfg.Sweep.BatchSize,
		})
		g.Go(func() error {
			return sweeper.Run(zctx.Base(gctx, lg.Named("sweeper")))
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
