package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-cart/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	LogFormat          string
	LogLevel           string
	CORSAllowedOrigins string
	BodyLimitBytes     int64
	ShutdownTimeout    time.Duration

	MongoURI      string
	MongoDatabase string
	RedisURL      string

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	JWTClockSkew time.Duration
	AccessCookie string

	Pricing            pricing.Policy
	Currency           string
	AllowGuestCheckout bool

	CartGuestTTL        time.Duration
	CartPersistDebounce time.Duration
	CartSessionIdleTTL  time.Duration
	CartSweepInterval   time.Duration
	CartSessionCookie   string
	CookieSecure        bool

	IdempotencyTTL   time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration
	LockRetryBackoff time.Duration
	CatalogCacheTTL  time.Duration
	RateLimit        string

	QueueEnabled     bool
	QueueName        string
	QueueConcurrency int
	QueueMaxRetry    int
	QueueRetention   time.Duration

	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	MetricsEnabled  bool
	MetricsBuckets  string
	TracingExporter string
	TracingEndpoint string
	TracingSampling float64
	ServiceName     string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var errs []error
	money := func(key, fallback string) decimal.Decimal {
		d, err := decimal.NewFromString(valueOrDefault(k.String(key), fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return decimal.Zero
		}
		return d
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		CORSAllowedOrigins: k.String("CORS_ALLOWED_ORIGINS"),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		MongoURI:      k.String("MONGO_URI"),
		MongoDatabase: valueOrDefault(k.String("MONGO_DATABASE"), "toko"),
		RedisURL:      k.String("REDIS_URL"),

		JWTSecret:    k.String("JWT_SECRET"),
		JWTIssuer:    k.String("JWT_ISSUER"),
		JWTAudience:  k.String("JWT_AUDIENCE"),
		JWTClockSkew: parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		AccessCookie: valueOrDefault(k.String("ACCESS_TOKEN_COOKIE"), "access_token"),

		Pricing: pricing.Policy{
			FreeShippingThreshold: money("PRICING_FREE_SHIPPING_THRESHOLD", "500"),
			FlatShippingFee:       money("PRICING_FLAT_SHIPPING_FEE", "50"),
			TaxRate:               money("PRICING_TAX_RATE_PERCENT", "18").Div(decimal.NewFromInt(100)),
		},
		Currency:           strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		AllowGuestCheckout: parseBool(valueOrDefault(k.String("CHECKOUT_ALLOW_GUEST"), "true")),

		CartGuestTTL:        parseDuration(k.String("CART_GUEST_TTL"), "720h"),
		CartPersistDebounce: parseDuration(k.String("CART_PERSIST_DEBOUNCE"), "0s"),
		CartSessionIdleTTL:  parseDuration(k.String("CART_SESSION_IDLE_TTL"), "30m"),
		CartSweepInterval:   parseDuration(k.String("CART_SWEEP_INTERVAL"), "1m"),
		CartSessionCookie:   valueOrDefault(k.String("CART_SESSION_COOKIE"), "toko_cart"),
		CookieSecure:        parseBool(k.String("COOKIE_SECURE")),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockWait:         parseDuration(k.String("LOCK_WAIT"), "3s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		CatalogCacheTTL:  parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		RateLimit:        valueOrDefault(k.String("RATE_LIMIT"), "120-M"),

		QueueEnabled:     parseBool(k.String("QUEUE_ENABLED")),
		QueueName:        valueOrDefault(k.String("QUEUE_NAME"), "default"),
		QueueConcurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 10),
		QueueMaxRetry:    parseInt(k.String("QUEUE_MAX_RETRY"), 8),
		QueueRetention:   parseDuration(k.String("QUEUE_RETENTION"), "24h"),

		BreakerMinRequests:  uint32(parseInt(k.String("BREAKER_MIN_REQUESTS"), 5)),
		BreakerFailureRatio: parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.6),
		BreakerOpenFor:      parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),

		MetricsEnabled:  parseBool(valueOrDefault(k.String("OBS_METRICS_ENABLED"), "true")),
		MetricsBuckets:  k.String("OBS_METRICS_BUCKETS_MS"),
		TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
		TracingEndpoint: k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingSampling: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		ServiceName:     valueOrDefault(k.String("OTEL_SERVICE_NAME"), "toko-cart"),
	}

	if cfg.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if cfg.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if err := cfg.Pricing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	d, err := time.ParseDuration(valueOrDefault(value, fallback))
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for the duration of one Load.
// An empty value unsets the variable.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key, value := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []error
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
