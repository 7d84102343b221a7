package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/repository"
)

const writeBatch = 1000

// codeImporter is the part of the discount store the tool writes through.
type codeImporter interface {
	ImportCodes(ctx context.Context, template discount.Discount, codes []string) (int, error)
}

type options struct {
	databaseURL string
	files       []string
	scan        scanConfig

	kind        string
	value       string
	minPurchase string
	usageLimit  int
	validUntil  string
	description string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.scan.quorum, "quorum", 2, "number of files a code must appear in")
	flag.IntVar(&opts.scan.minLen, "min-len", 6, "minimum code length")
	flag.IntVar(&opts.scan.maxLen, "max-len", 32, "maximum code length")
	flag.UintVar(&opts.scan.expected, "expected-codes", 10_000_000, "expected codes per file, sizes the Bloom filters")
	flag.StringVar(&opts.kind, "kind", string(discount.KindPercentage), "discount kind: percentage or fixed")
	flag.StringVar(&opts.value, "value", "10", "percent or fixed amount off")
	flag.StringVar(&opts.minPurchase, "min-purchase", "0", "minimum subtotal")
	flag.IntVar(&opts.usageLimit, "usage-limit", 1, "uses per code, 0 for unlimited")
	flag.StringVar(&opts.validUntil, "valid-until", "", "RFC 3339 expiry, empty for none")
	flag.StringVar(&opts.description, "description", "Campaign code", "description stored with each code")
	flag.Parse()
	opts.files = flag.Args()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount import completed successfully")
}

func run(ctx context.Context, opts options) error {
	template, err := opts.template()
	if err != nil {
		return errors.Wrap(err, "discount template")
	}
	if err := opts.scan.validate(len(opts.files)); err != nil {
		return err
	}
	for _, f := range opts.files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	codes, err := qualifyingCodes(ctx, opts.files, opts.scan)
	if err != nil {
		return errors.Wrap(err, "scan files")
	}

	slog.Info("qualifying codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no codes to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	created, err := writeCodes(ctx, repository.NewDiscountRepository(pool), template, codes)
	if err != nil {
		return errors.Wrap(err, "write codes")
	}

	slog.Info("codes imported",
		slog.Int("created", created),
		slog.Int("existing", len(codes)-created),
	)
	return nil
}

func (o options) template() (discount.Discount, error) {
	d := discount.Discount{
		Kind:        discount.Kind(o.kind),
		UsageLimit:  o.usageLimit,
		Active:      true,
		Description: o.description,
	}
	switch d.Kind {
	case discount.KindPercentage, discount.KindFixed:
	default:
		return d, errors.Errorf("unknown kind %q", o.kind)
	}

	var err error
	if d.Value, err = decimal.NewFromString(o.value); err != nil {
		return d, errors.Wrap(err, "parse value")
	}
	if !d.Value.IsPositive() {
		return d, errors.New("value must be positive")
	}
	if d.Kind == discount.KindPercentage && d.Value.GreaterThan(decimal.NewFromInt(100)) {
		return d, errors.New("percentage must not exceed 100")
	}
	if d.MinPurchase, err = decimal.NewFromString(o.minPurchase); err != nil {
		return d, errors.Wrap(err, "parse min purchase")
	}
	if d.UsageLimit < 0 {
		return d, errors.New("usage limit must not be negative")
	}
	if s := strings.TrimSpace(o.validUntil); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return d, errors.Wrap(err, "parse valid-until")
		}
		d.ValidUntil = &t
	}
	return d, nil
}

// writeCodes imports codes in batches and returns how many were created.
func writeCodes(ctx context.Context, repo codeImporter, template discount.Discount, codes []string) (int, error) {
	slog.Info("writing codes to database", slog.Int("count", len(codes)))

	created := 0
	for start := 0; start < len(codes); start += writeBatch {
		end := min(start+writeBatch, len(codes))
		n, err := repo.ImportCodes(ctx, template, codes[start:end])
		created += n
		if err != nil {
			return created, errors.Wrapf(err, "import batch at %d", start)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}
	return created, nil
}
