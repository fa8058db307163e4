package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the API server configuration, loadable from environment
// variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage     string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Stock       StockConfig
	Notify      NotifyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	JWTSecret  string `usage:"HS256 secret shared with the identity service" flag:"jwt-secret"`
	CookieName string `default:"jwt" usage:"Cookie carrying the session token"`
}

// StockConfig configures the stock ledger.
type StockConfig struct {
	LowThreshold int `default:"40" usage:"On-hand quantity at or below which a low-stock alert is emitted"`
}

// NotifyConfig configures the notification dispatcher and its transports. An
// empty URL disables the corresponding transport.
type NotifyConfig struct {
	AMQPURL         string        `usage:"RabbitMQ URL for low-stock alerts" flag:"amqp-url"`
	LowStockQueue   string        `default:"low_stock_alerts" usage:"Queue receiving low-stock alerts"`
	OrderSummaryURL string        `usage:"Endpoint of the order confirmation mailer" flag:"order-summary-url"`
	RequestTimeout  time.Duration `default:"10s" usage:"Timeout of a single delivery attempt"`
	RetryInterval   time.Duration `default:"5s" usage:"Delay between delivery attempts"`
	MaxAttempts     int           `default:"3" usage:"Delivery attempts per notification"`
	DrainTimeout    time.Duration `default:"15s" usage:"Time allowed to flush pending notifications on shutdown"`
}

// RateLimitConfig controls the per-client rate limiter. Max <= 0 disables it.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"true" usage:"Allow the session cookie on cross-origin requests" flag:"cors-credentials"`
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
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required: set SHOP_AUTH_JWT_SECRET")
	}
	if c.Stock.LowThreshold <= 0 {
		return errors.Errorf("low stock threshold must be positive, got %d", c.Stock.LowThreshold)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
