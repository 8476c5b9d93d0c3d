package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/localguide/reviews/pkg/config"
)

const defaultJWTSecret = "development-only-review-secret-change-me"

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"REVIEW_HTTP_PORT" envDefault:"8010"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL. DatabaseURL wins over the individual fields when set.
	DatabaseURL  string `env:"DATABASE_URL"`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"reviews"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"reviews_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"reviews"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Submission rate limit, per scope and client IP
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitMax     int64         `env:"RATE_LIMIT_MAX" envDefault:"5"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10m"`

	// Per-IP token bucket on the public routes. Zero RPS disables it.
	PublicRPS   float64 `env:"PUBLIC_RPS" envDefault:"10"`
	PublicBurst int     `env:"PUBLIC_BURST" envDefault:"20"`

	// Caching
	ListCacheTTL time.Duration `env:"LIST_CACHE_TTL" envDefault:"5m"`
	CacheMaxAge  int           `env:"CACHE_MAX_AGE" envDefault:"60"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT for moderator endpoints
	JWTSecret string        `env:"JWT_SECRET" envDefault:"development-only-review-secret-change-me"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"12h"`

	// Site registry. Empty accepts every well-formed scope.
	SitesFile string `env:"SITES_FILE"`

	// TrustProxyHeaders keys rate limits on X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" && c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST or DATABASE_URL is required")
		}
	case StoreMemory:
		if c.Environment == "production" {
			return fmt.Errorf("STORE_DRIVER %q is not allowed in production", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("RATE_LIMIT_BACKEND %q requires REDIS_ENABLED=true", c.RateLimitBackend)
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", c.RateLimitMax)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	if c.PublicRPS < 0 || c.PublicBurst < 0 {
		return fmt.Errorf("PUBLIC_RPS and PUBLIC_BURST must not be negative")
	}
	if c.ListCacheTTL < 0 {
		return fmt.Errorf("LIST_CACHE_TTL must not be negative, got %s", c.ListCacheTTL)
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("CACHE_MAX_AGE must not be negative, got %d", c.CacheMaxAge)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY must be positive, got %s", c.JWTExpiry)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
	}
	return nil
}

// ListCacheEnabled reports whether approved lists are cached in Redis.
func (c *Config) ListCacheEnabled() bool {
	return c.RedisEnabled && c.ListCacheTTL > 0
}
