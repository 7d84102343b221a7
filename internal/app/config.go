package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage     string `default:"postgres" usage:"Store backend: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SeedFile    string `default:"" usage:"Catalog fixture applied at startup" flag:"seed-file"`
	AdminToken  string `usage:"Bearer token for /api/admin routes; empty disables them" flag:"admin-token"`
	Checkout    CheckoutConfig
	Shipping    ShippingConfig
	Payment     PaymentConfig
	Sweep       SweepConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// CheckoutConfig holds the store-wide pricing and redirect settings. Money
// and rates are decimal strings.
type CheckoutConfig struct {
	Currency   string `default:"usd" usage:"ISO currency code"`
	TaxRate    string `default:"0" usage:"Tax rate as a fraction, e.g. 0.085"`
	TaxBase    string `default:"post_discount" usage:"post_discount or pre_discount"`
	SuccessURL string `default:"http://localhost:8080/orders/{order_id}" usage:"Redirect after payment; {order_id} is replaced"`
	CancelURL  string `default:"http://localhost:8080/cart" usage:"Redirect when payment is abandoned"`
}

// ShippingConfig configures the flat-rate shipping policy.
type ShippingConfig struct {
	Base                   string `default:"0"`
	InternationalSurcharge string `default:"0"`
	PerItem                string `default:"0"`
	PerKilogram            string `default:"0"`
	FreeAbove              string `default:"0" usage:"Discounted subtotal at which shipping is free; 0 disables"`
	DomesticCountry        string `default:"US"`
}

// PaymentConfig configures the hosted checkout gateway.
type PaymentConfig struct {
	BaseURL            string        `usage:"Gateway API base URL"`
	APIKey             string        `usage:"Gateway API key"`
	WebhookSecret      string        `usage:"Webhook signing secret"`
	SignatureTolerance time.Duration `default:"5m" usage:"Maximum webhook timestamp age"`
	Timeout            time.Duration `default:"10s" usage:"Gateway request timeout"`
}

// SweepConfig controls the pending order sweeper.
type SweepConfig struct {
	Enabled    bool          `default:"true"`
	Interval   time.Duration `default:"1m"`
	PendingTTL time.Duration `default:"1h" usage:"Age after which an unpaid order is cancelled"`
	BatchSize  int           `default:"100"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.Payment.BaseURL == "" {
		return errors.New("payment gateway URL is required: set SHOP_PAYMENT_BASE_URL")
	}
	if _, err := c.PricingPolicy(); err != nil {
		return err
	}
	return nil
}

// PricingPolicy parses the checkout and shipping sections.
func (c *Config) PricingPolicy() (pricing.Policy, error) {
	var (
		p    pricing.Policy
		flat pricing.FlatRate
		err  error
	)
	type amount struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}
	for _, v := range []amount{
		{"checkout.taxRate", c.Checkout.TaxRate, &p.TaxRate},
		{"shipping.base", c.Shipping.Base, &flat.Base},
		{"shipping.internationalSurcharge", c.Shipping.InternationalSurcharge, &flat.InternationalSurcharge},
		{"shipping.perItem", c.Shipping.PerItem, &flat.PerItem},
		{"shipping.perKilogram", c.Shipping.PerKilogram, &flat.PerKilogram},
		{"shipping.freeAbove", c.Shipping.FreeAbove, &flat.FreeAbove},
	} {
		raw := strings.TrimSpace(v.raw)
		if raw == "" {
			raw = "0"
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return p, errors.Wrapf(err, "parse %s", v.name)
		}
		if d.IsNegative() {
			return p, errors.Errorf("%s must not be negative", v.name)
		}
		*v.dst = d
	}
	if p.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return p, errors.Errorf("checkout.taxRate %s is a fraction and must not exceed 1", p.TaxRate)
	}

	if p.TaxBase, err = pricing.ParseTaxBase(c.Checkout.TaxBase); err != nil {
		return p, err
	}
	flat.DomesticCountry = c.Shipping.DomesticCountry
	p.Shipping = flat.Rule()
	return p, nil
}
