package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/checkout"
	"github.com/oakmart/checkout/internal/pricing"
)

// Config holds the complete service configuration, loadable from environment
// variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CHECKOUT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Pricing      PricingConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig carries the checkout policy knobs.
type PricingConfig struct {
	StockPolicy           string `default:"clamp" usage:"Under-stock handling: clamp or reject" flag:"stock-policy"`
	FreeShippingThreshold string `default:"299" usage:"Subtotal at which shipping is waived; 0 disables" flag:"free-shipping-threshold"`
}

// Checkout converts the knobs into the domain configuration, attaching the
// standard shipping rate table.
func (p PricingConfig) Checkout() (checkout.Config, error) {
	policy := pricing.StockPolicy(p.StockPolicy)
	if !policy.Valid() {
		return checkout.Config{}, errors.Errorf("unknown stock policy %q (want clamp or reject)", p.StockPolicy)
	}

	threshold, err := decimal.NewFromString(p.FreeShippingThreshold)
	if err != nil {
		return checkout.Config{}, errors.Wrap(err, "parse free shipping threshold")
	}

	return checkout.Config{
		StockPolicy:           policy,
		Rates:                 pricing.DefaultRates(),
		FreeShippingThreshold: threshold,
	}, nil
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults. Policy knobs are validated here so a typo
// fails startup instead of the first order.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Pricing.Checkout(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT onto the CHECKOUT_-prefixed
// configuration.
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
