package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr   string `default:"localhost:6379" usage:"Redis address for the cart store" flag:"redis-addr"`

	// KafkaBrokers is empty by default: without brokers lifecycle events
	// are dropped instead of published.
	KafkaBrokers []string `usage:"Kafka broker addresses for lifecycle events" flag:"kafka-brokers"`

	Gateway   GatewayConfig
	Pricing   PricingConfig
	Checkout  CheckoutConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// GatewayConfig holds payment gateway credentials and endpoints.
type GatewayConfig struct {
	KeyID     string `usage:"Gateway API key id" flag:"gateway-key-id"`
	KeySecret string `usage:"Gateway API key secret" flag:"gateway-key-secret"`
	BaseURL   string `default:"https://api.razorpay.com" usage:"Gateway API base URL" flag:"gateway-base-url"`
	Currency  string `default:"INR" usage:"Currency for gateway charges" flag:"gateway-currency"`
}

// PricingConfig holds the rates applied at checkout.
type PricingConfig struct {
	TaxRate      string `default:"0.18" usage:"Tax rate as a decimal fraction" flag:"tax-rate"`
	DiscountRate string `default:"0" usage:"Discount rate as a decimal fraction" flag:"discount-rate"`
}

// CheckoutConfig controls the abandoned checkout sweeper. A zero TTL
// disables sweeping entirely.
type CheckoutConfig struct {
	PendingTTL    time.Duration `default:"30m" usage:"Age after which PENDING orders are cancelled" flag:"pending-ttl"`
	SweepInterval time.Duration `default:"5m" usage:"How often to sweep stale PENDING orders" flag:"sweep-interval"`
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
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
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.KeySecret == "" {
		return nil, errors.New("gateway key secret is required: set SHOP_GATEWAY_KEY_SECRET")
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
