// Command seed-db loads the demo catalog, a set of demo promotions, and the
// storefront API key into PostgreSQL. Every write is an upsert, so reruns
// refresh the data without duplicating rows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/auth"
	"github.com/oakmart/checkout/internal/coupon"
	"github.com/oakmart/checkout/internal/repository"
)

const upsertProductSQL = `
INSERT INTO products (id, name, price, stock_count, track_inventory, weight, category_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
ON CONFLICT (id) DO UPDATE SET
    name            = EXCLUDED.name,
    price           = EXCLUDED.price,
    stock_count     = EXCLUDED.stock_count,
    track_inventory = EXCLUDED.track_inventory,
    weight          = EXCLUDED.weight,
    category_id     = EXCLUDED.category_id,
    is_active       = TRUE`

const upsertCouponSQL = `
INSERT INTO coupons (id, code, type, value, min_amount, max_discount,
                     usage_limit, usage_limit_per_user, application_type, category_ids, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
ON CONFLICT (code) DO UPDATE SET
    type                 = EXCLUDED.type,
    value                = EXCLUDED.value,
    min_amount           = EXCLUDED.min_amount,
    max_discount         = EXCLUDED.max_discount,
    usage_limit          = EXCLUDED.usage_limit,
    usage_limit_per_user = EXCLUDED.usage_limit_per_user,
    application_type     = EXCLUDED.application_type,
    category_ids         = EXCLUDED.category_ids,
    is_active            = TRUE`

const upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, name, scopes, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET
    key_hash = EXCLUDED.key_hash,
    name     = EXCLUDED.name,
    scopes   = EXCLUDED.scopes,
    active   = TRUE`

// productJSON is one catalog entry in the seed file. A digital product is
// not inventory tracked and adds no shipping weight.
type productJSON struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Price    decimal.Decimal  `json:"price"`
	Stock    int              `json:"stock"`
	Weight   *decimal.Decimal `json:"weight"`
	Category string           `json:"category"`
	Digital  bool             `json:"digital"`
}

// demoCoupon is one seeded promotion. Empty amounts and zero limits become
// NULL columns, meaning no bound.
type demoCoupon struct {
	code         string
	typ          coupon.Type
	value        string
	minAmount    string
	maxDiscount  string
	usageLimit   int
	perUserLimit int
	apply        coupon.ApplicationType
	categories   []string
}

var demoCoupons = []demoCoupon{
	{code: "SAVE10", typ: coupon.TypePercentage, value: "10"},
	{code: "WELCOME15", typ: coupon.TypePercentage, value: "15", perUserLimit: 1},
	{code: "COFFEE20", typ: coupon.TypePercentage, value: "20", maxDiscount: "15",
		apply: coupon.ApplyCategories, categories: []string{"coffee"}},
	{code: "TENOFF", typ: coupon.TypeFixedAmount, value: "10", minAmount: "50"},
	{code: "SHIPFREE", typ: coupon.TypeFreeShipping, value: "0", minAmount: "30"},
	{code: "LAUNCH100", typ: coupon.TypePercentage, value: "25", usageLimit: 100},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "storefront API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		weight := decimal.NullDecimal{}
		if p.Weight != nil {
			weight = decimal.NullDecimal{Decimal: *p.Weight, Valid: true}
		}

		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Stock, !p.Digital, weight, p.Category,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo coupons", slog.Int("count", len(demoCoupons)))

	for _, c := range demoCoupons {
		apply := c.apply
		if apply == "" {
			apply = coupon.ApplyAll
		}
		categories := c.categories
		if categories == nil {
			categories = []string{}
		}

		if _, err := pool.Exec(ctx, upsertCouponSQL,
			uuid.NewString(),
			c.code,
			string(c.typ),
			decimal.RequireFromString(c.value),
			nullDecimal(c.minAmount),
			nullDecimal(c.maxDiscount),
			nullInt(c.usageLimit),
			nullInt(c.perUserLimit),
			string(apply),
			categories,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("type", string(c.typ)))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding storefront API key")

	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		"storefront",
		auth.Hash([]byte(pepper), apiKey),
		"Storefront gateway key",
		[]string{"submit_order"},
	); err != nil {
		return errors.Wrap(err, "upsert storefront API key")
	}

	slog.Info("upserted API key", slog.String("id", "storefront"))

	return nil
}

func nullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func nullInt(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
