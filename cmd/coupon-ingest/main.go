// Command coupon-ingest bulk-imports campaign promo codes from gzipped dump
// files, one code per line. Marketing exports the same campaign through
// several channels, and only codes present in at least two dumps are trusted;
// everything else is treated as a corrupted or fabricated line.
//
// The cross-check runs in two passes so no dump has to fit in memory: pass
// one builds a bloom filter per file, pass two re-streams each file and
// keeps codes that hit another file's filter. A filter false positive can
// only ever promote a code into the candidate set of the file that really
// contains it, so the final intersection is exact.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/oakmart/checkout/internal/coupon"
	"github.com/oakmart/checkout/internal/repository"
)

const (
	bloomCapacity = 100_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 12

	// maxFiles is bounded by the uint8 presence mask.
	maxFiles = 8
)

// campaign describes the promotion every imported code grants.
type campaign struct {
	percent      int
	usageLimit   int
	perUserLimit int
	startsAt     time.Time
	expiresAt    *time.Time
}

func main() {
	var (
		databaseURL  string
		percent      int
		usageLimit   int
		perUserLimit int
		validFor     time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&percent, "percent", 10, "discount percentage granted by each code")
	flag.IntVar(&usageLimit, "usage-limit", 0, "global redemptions per code, 0 for unlimited")
	flag.IntVar(&perUserLimit, "per-user-limit", 1, "redemptions per user per code, 0 for unlimited")
	flag.DurationVar(&validFor, "valid-for", 720*time.Hour, "code lifetime from now, 0 for no expiry")
	flag.Parse()

	files := flag.Args()
	if len(files) < 2 || len(files) > maxFiles {
		slog.Error("expected 2 to 8 dump files as arguments", slog.Int("got", len(files)))
		os.Exit(1)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if percent < 1 || percent > 100 {
		slog.Error("percent must be between 1 and 100", slog.Int("got", percent))
		os.Exit(1)
	}

	now := time.Now().UTC()
	camp := campaign{
		percent:      percent,
		usageLimit:   usageLimit,
		perUserLimit: perUserLimit,
		startsAt:     now,
	}
	if validFor > 0 {
		expires := now.Add(validFor)
		camp.expiresAt = &expires
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, camp); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, camp campaign) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("pass 1: indexing dump files", slog.Int("files", len(files)))

	filters, err := indexFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "index dump files")
	}

	slog.Info("pass 2: collecting codes shared between dumps")

	codes, err := sharedCodes(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "collect shared codes")
	}

	slog.Info("shared codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("nothing to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	inserted, err := importCodes(ctx, pool, codes, camp)
	if err != nil {
		return errors.Wrap(err, "import codes")
	}

	slog.Info("codes imported",
		slog.Int64("inserted", inserted),
		slog.Int64("already_present", int64(len(codes))-inserted),
	)

	return nil
}

// indexFiles builds one bloom filter per dump, all files in parallel.
func indexFiles(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var seen uint64

			if err := streamCodes(ctx, path, func(code string) {
				filter.AddString(code)
				seen++
				if seen%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", seen))
				}
			}); err != nil {
				return errors.Wrapf(err, "index %s", path)
			}

			slog.Info("pass 1 file done", slog.String("file", path), slog.Uint64("codes", seen))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// sharedCodes re-streams every dump and keeps codes that appear in at least
// two of them. Each file contributes its own bit to a per-code presence
// mask; a filter false positive adds at most one bit, so two set bits prove
// the code really exists in two files.
func sharedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]string, error) {
	masks := make([]map[string]uint8, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			local := make(map[string]uint8)
			bit := uint8(1) << i
			var seen uint64

			if err := streamCodes(ctx, path, func(code string) {
				seen++
				if seen%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", path), slog.Uint64("codes", seen))
				}
				for j, f := range filters {
					if j == i {
						continue
					}
					if f.TestString(code) {
						local[code] |= bit
						break
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}

			slog.Info("pass 2 file done",
				slog.String("file", path),
				slog.Uint64("codes", seen),
				slog.Int("candidates", len(local)),
			)
			masks[i] = local
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint8)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	var shared []string
	for code, mask := range merged {
		if bits.OnesCount8(mask) >= 2 {
			shared = append(shared, code)
		}
	}
	return shared, nil
}

// streamCodes reads one gzipped dump line by line and hands every
// normalized, plausibly-sized code to fn.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

const stagingSQL = `CREATE TEMP TABLE campaign_codes (LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

const mergeSQL = `
INSERT INTO coupons (id, code, type, value, usage_limit, usage_limit_per_user,
                     application_type, is_active, starts_at, expires_at)
SELECT id, code, type, value, usage_limit, usage_limit_per_user,
       application_type, is_active, starts_at, expires_at
FROM campaign_codes
ON CONFLICT (code) DO NOTHING`

var stagingColumns = []string{
	"id", "code", "type", "value", "usage_limit", "usage_limit_per_user",
	"application_type", "is_active", "starts_at", "expires_at",
}

// importCodes copies the codes into a staging table and merges them into
// coupons, skipping codes already present. Returns the number of new rows.
func importCodes(ctx context.Context, pool *pgxpool.Pool, codes []string, camp campaign) (int64, error) {
	slog.Info("importing codes", slog.Int("count", len(codes)), slog.Int("percent", camp.percent))

	var inserted int64
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, stagingSQL); err != nil {
			return errors.Wrap(err, "create staging table")
		}

		value := decimal.NewFromInt(int64(camp.percent))
		rows := pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
			return []any{
				uuid.NewString(),
				codes[i],
				string(coupon.TypePercentage),
				value,
				nullInt(camp.usageLimit),
				nullInt(camp.perUserLimit),
				string(coupon.ApplyAll),
				true,
				camp.startsAt,
				camp.expiresAt,
			}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"campaign_codes"}, stagingColumns, rows); err != nil {
			return errors.Wrap(err, "copy codes to staging")
		}

		tag, err := tx.Exec(ctx, mergeSQL)
		if err != nil {
			return errors.Wrap(err, "merge staging into coupons")
		}
		inserted = tag.RowsAffected()
		return nil
	})
	return inserted, err
}

func nullInt(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
