package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/datacol/colfetch/internal/cache"
	"github.com/datacol/colfetch/internal/logger"
)

// Validation errors.
var (
	ErrMissingClientID   = errors.New("app.client_id is required")
	ErrInvalidBackend    = errors.New("cache.backend must be \"memory\" or \"redis\"")
	ErrInvalidAttempts   = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidRateBudget = errors.New("rate_limit requires positive max_requests and window")
)

// Defaults applied by SetDefaults.
const (
	DefaultClientID        = "colfetch"
	DefaultSchemaVersion   = "v1"
	DefaultSourcesFile     = "sources.yaml"
	DefaultUserAgent       = "colfetch/1.0"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultCacheTTL        = 15 * time.Minute
	DefaultMaxRequests     = 60
	DefaultWindow          = time.Minute
	DefaultBatchConcurrent = 8
	DefaultMetricsAddress  = ":9090"
)

// Config is the root colfetch configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Logging logger.Config `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Breaker BreakerConfig `yaml:"breaker"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig identifies the client for cache namespacing.
type AppConfig struct {
	// ClientID namespaces cache entries so distinct deployments sharing a
	// Redis instance never serve each other's payloads.
	ClientID string `env:"COLFETCH_CLIENT_ID" yaml:"client_id"`
	// SchemaVersion invalidates cached payloads when their shape changes.
	SchemaVersion string `yaml:"schema_version"`
	// SourcesFile is the path to the source catalog.
	SourcesFile string `env:"COLFETCH_SOURCES" yaml:"sources_file"`
}

// CacheConfig selects and configures the response cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `env:"COLFETCH_CACHE_BACKEND" yaml:"backend"`
	// TTL is the default freshness window for cached responses.
	TTL   time.Duration     `yaml:"ttl"`
	Redis cache.RedisConfig `yaml:"redis"`
}

// FetchConfig holds transport, retry, and admission defaults. Sources
// may override rate budgets, TTLs, and timeouts per entry in the
// catalog.
type FetchConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`

	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// BatchConcurrency bounds in-flight fetches in a batch.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// RetryConfig configures the retry policy for transient failures.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, counting the original try.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// JitterFraction spreads each delay by ±fraction.
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// RateLimitConfig is the default admission budget for sources without
// an override.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `env:"COLFETCH_METRICS" yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads the config file at path, applies defaults and env
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated configuration without reading a file.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills unset fields with production-safe values.
func (c *Config) SetDefaults() {
	if c.App.ClientID == "" {
		c.App.ClientID = DefaultClientID
	}
	if c.App.SchemaVersion == "" {
		c.App.SchemaVersion = DefaultSchemaVersion
	}
	if c.App.SourcesFile == "" {
		c.App.SourcesFile = DefaultSourcesFile
	}

	c.Logging.SetDefaults()

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = DefaultRequestTimeout
	}
	if c.Fetch.Retry.MaxAttempts == 0 {
		c.Fetch.Retry.MaxAttempts = 3
	}
	if c.Fetch.Retry.BaseDelay == 0 {
		c.Fetch.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Fetch.Retry.MaxDelay == 0 {
		c.Fetch.Retry.MaxDelay = 30 * time.Second
	}
	if c.Fetch.Retry.JitterFraction == 0 {
		c.Fetch.Retry.JitterFraction = 0.2
	}
	if c.Fetch.RateLimit.MaxRequests == 0 {
		c.Fetch.RateLimit.MaxRequests = DefaultMaxRequests
	}
	if c.Fetch.RateLimit.Window == 0 {
		c.Fetch.RateLimit.Window = DefaultWindow
	}
	if c.Fetch.BatchConcurrency == 0 {
		c.Fetch.BatchConcurrency = DefaultBatchConcurrent
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = 2
	}
	if c.Breaker.OpenTimeout == 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
}

// Validate checks the configuration for contradictions the defaults
// cannot repair.
func (c *Config) Validate() error {
	if c.App.ClientID == "" {
		return ErrMissingClientID
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return cache.ErrEmptyAddress
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidBackend, c.Cache.Backend)
	}

	if c.Fetch.Retry.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if c.Fetch.RateLimit.MaxRequests < 1 || c.Fetch.RateLimit.Window <= 0 {
		return ErrInvalidRateBudget
	}
	return nil
}
