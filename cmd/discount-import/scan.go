package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	// maxFiles is bounded by the width of the per-code file bitmask.
	maxFiles = bits.UintSize
)

type scanConfig struct {
	quorum   int
	minLen   int
	maxLen   int
	expected uint
}

func (c scanConfig) validate(files int) error {
	switch {
	case files == 0:
		return errors.New("no input files")
	case files > maxFiles:
		return errors.Errorf("at most %d input files are supported", maxFiles)
	case c.quorum < 2:
		return errors.New("quorum must be at least 2")
	case c.quorum > files:
		return errors.Errorf("quorum %d exceeds the %d input files", c.quorum, files)
	case c.minLen <= 0 || c.maxLen < c.minLen:
		return errors.Errorf("invalid code length bounds %d..%d", c.minLen, c.maxLen)
	}
	return nil
}

// normalize returns the canonical form of a line and whether it is a
// candidate code.
func (c scanConfig) normalize(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if len(code) < c.minLen || len(code) > c.maxLen {
		return "", false
	}
	return code, true
}

// qualifyingCodes returns the sorted codes that appear in at least
// cfg.quorum of files.
func qualifyingCodes(ctx context.Context, files []string, cfg scanConfig) ([]string, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: finding shared codes")

	masks, err := collectMasks(ctx, files, filters, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "collect candidates")
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, bit := range m {
			merged[code] |= bit
		}
	}

	var codes []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= cfg.quorum {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, cfg scanConfig) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(cfg.expected, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, path, func(line string) {
				code, ok := cfg.normalize(line)
				if !ok {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}

			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectMasks re-streams each file and keeps the codes that some other
// file's filter claims, tagged with the bit of the file they were read from.
// A false positive only ever sets the reader's own bit, so the merged masks
// count files exactly.
func collectMasks(ctx context.Context, files []string, filters []*bloom.BloomFilter, cfg scanConfig) ([]map[string]uint, error) {
	masks := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			if err := streamGzFile(ctx, path, func(line string) {
				code, ok := cfg.normalize(line)
				if !ok {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}

			slog.Info("pass 2 complete", slog.String("file", path), slog.Int("candidates", len(candidates)))
			masks[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return masks, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
