// Package common assembles the fetch fabric for the CLI commands:
// configuration, logging, the source catalog, the cache backend, and
// the orchestrator wired together.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datacol/colfetch/internal/breaker"
	"github.com/datacol/colfetch/internal/cache"
	"github.com/datacol/colfetch/internal/config"
	"github.com/datacol/colfetch/internal/fetch"
	"github.com/datacol/colfetch/internal/httpx"
	"github.com/datacol/colfetch/internal/logger"
	"github.com/datacol/colfetch/internal/metrics"
	"github.com/datacol/colfetch/internal/ratelimit"
	"github.com/datacol/colfetch/internal/retry"
	"github.com/datacol/colfetch/internal/sources"
)

// shutdownTimeout bounds metrics server shutdown on Close.
const shutdownTimeout = 5 * time.Second

// Overrides carries the root command's persistent flag values into the
// assembly.
type Overrides struct {
	ConfigPath  string
	SourcesPath string
	Debug       bool
}

var overrides Overrides

// SetOverrides stores the flag values. Called once by the root command
// before any subcommand runs.
func SetOverrides(o Overrides) {
	overrides = o
}

// App is the assembled fetch fabric shared by the CLI commands.
type App struct {
	Config       *config.Config
	Log          logger.Logger
	Catalog      *sources.Catalog
	Orchestrator *fetch.Orchestrator

	metricsServer *http.Server
	store         cache.Store
}

// Build loads configuration and the source catalog and wires the
// orchestrator. Callers must Close the returned app.
func Build() (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if overrides.Debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	sourcesPath := cfg.App.SourcesFile
	if overrides.SourcesPath != "" {
		sourcesPath = overrides.SourcesPath
	}
	catalog, err := sources.Load(sourcesPath)
	if err != nil {
		return nil, fmt.Errorf("load source catalog: %w", err)
	}

	registry, err := ratelimit.NewRegistry(
		ratelimit.Budget{
			MaxRequests: cfg.Fetch.RateLimit.MaxRequests,
			Window:      cfg.Fetch.RateLimit.Window,
		},
		catalog.Budgets(),
	)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter registry: %w", err)
	}

	store, err := buildStore(cfg, log)
	if err != nil {
		return nil, err
	}

	client := httpx.NewClient(&httpx.ClientConfig{Timeout: cfg.Fetch.Timeout})
	transport := fetch.NewHTTPTransport(client, fetch.WithUserAgent(cfg.Fetch.UserAgent))

	policy := retry.Policy{
		MaxAttempts:    cfg.Fetch.Retry.MaxAttempts,
		BaseDelay:      cfg.Fetch.Retry.BaseDelay,
		MaxDelay:       cfg.Fetch.Retry.MaxDelay,
		JitterFraction: cfg.Fetch.Retry.JitterFraction,
		IsRetryable:    fetch.IsTransient,
	}

	opts := []fetch.Option{
		fetch.WithLogger(log),
		fetch.WithSchemaVersion(cfg.App.SchemaVersion),
		fetch.WithDefaultCacheTTL(cfg.Cache.TTL),
	}

	if cfg.Breaker.Enabled {
		opts = append(opts, fetch.WithBreakers(breaker.NewRegistry(breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		})))
	}

	app := &App{
		Config:  cfg,
		Log:     log,
		Catalog: catalog,
		store:   store,
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, fetch.WithMetrics(metrics.New(reg)))
		app.metricsServer = startMetricsServer(cfg.Metrics.Address, reg, log)
	}

	orchestrator, err := fetch.New(
		cfg.App.ClientID,
		transport,
		registry,
		store,
		policy,
		opts...,
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	app.Orchestrator = orchestrator

	log.Debug("fetch fabric assembled",
		logger.String("client_id", cfg.App.ClientID),
		logger.String("cache_backend", cfg.Cache.Backend),
		logger.Int("sources", catalog.Len()),
	)
	return app, nil
}

// Close releases the app's resources: the metrics listener, the cache
// backend connection, and buffered log output.
func (a *App) Close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.metricsServer.Shutdown(ctx)
	}
	if closer, ok := a.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}

// loadConfig resolves the config path and loads it. A missing default
// config file is fine; an explicitly requested one must exist.
func loadConfig() (*config.Config, error) {
	path := overrides.ConfigPath
	if path == "" {
		path = config.Path("config.yaml")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildStore selects the cache backend from config.
func buildStore(cfg *config.Config, log logger.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "redis":
		store, err := cache.NewRedisStore(cfg.Cache.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		return store, nil
	default:
		log.Debug("using in-memory response cache")
		return cache.NewMemoryStore(), nil
	}
}

// startMetricsServer exposes the Prometheus registry over HTTP for the
// lifetime of the command.
func startMetricsServer(addr string, reg *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", logger.Err(err))
		}
	}()

	return srv
}
