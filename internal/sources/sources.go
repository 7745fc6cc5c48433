// Package sources holds the catalog of upstream data providers:
// government open-data APIs and news feeds, each with its base URL and
// optional per-source admission, cache, and timeout overrides.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/datacol/colfetch/internal/fetch"
	"github.com/datacol/colfetch/internal/ratelimit"
)

// Kind classifies a source by what it serves.
type Kind string

const (
	// KindAPI is a structured data API (JSON, CSV, XML).
	KindAPI Kind = "api"
	// KindNews is a news feed or article listing.
	KindNews Kind = "news"
)

// Validation errors.
var (
	ErrMissingKey     = errors.New("source key is required")
	ErrMissingBaseURL = errors.New("source base_url is required")
	ErrDuplicateKey   = errors.New("duplicate source key")
	ErrInvalidKind    = errors.New("source kind must be \"api\" or \"news\"")
)

// RateBudget is a per-source admission override. Sources without one
// use the process-wide default budget.
type RateBudget struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RetryOverride is a per-source retry override. Zero fields keep the
// process-wide retry defaults.
type RetryOverride struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Source describes one upstream provider.
type Source struct {
	// Key is the stable identifier used for admission control, cache
	// namespacing, and metrics labels.
	Key string `yaml:"key"`
	// Name is the human-readable provider name.
	Name string `yaml:"name"`
	// Kind classifies the source.
	Kind Kind `yaml:"kind"`
	// BaseURL is the provider root; request paths are joined onto it.
	BaseURL string `yaml:"base_url"`
	// Path is the default request path for the source.
	Path string `yaml:"path"`
	// Query holds default query parameters merged into every request.
	Query map[string]string `yaml:"query"`
	// Header holds default headers, e.g. API tokens.
	Header map[string]string `yaml:"header"`
	// RateLimit overrides the default admission budget when non-nil.
	RateLimit *RateBudget `yaml:"rate_limit"`
	// Retry overrides the default retry policy when non-nil.
	Retry *RetryOverride `yaml:"retry"`
	// CacheTTL overrides the default response freshness window.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// Timeout overrides the default per-request deadline.
	Timeout time.Duration `yaml:"timeout"`
	// NoCache disables response caching for the source.
	NoCache bool `yaml:"no_cache"`
}

// Validate checks a single source entry.
func (s *Source) Validate() error {
	if s.Key == "" {
		return ErrMissingKey
	}
	if s.BaseURL == "" {
		return fmt.Errorf("source %s: %w", s.Key, ErrMissingBaseURL)
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source %s: invalid base_url %q", s.Key, s.BaseURL)
	}

	switch s.Kind {
	case KindAPI, KindNews, "":
	default:
		return fmt.Errorf("source %s: %w: got %q", s.Key, ErrInvalidKind, s.Kind)
	}

	if rl := s.RateLimit; rl != nil {
		budget := ratelimit.Budget{MaxRequests: rl.MaxRequests, Window: rl.Window}
		if err := budget.Validate(); err != nil {
			return fmt.Errorf("source %s: rate_limit: %w", s.Key, err)
		}
	}

	if rt := s.Retry; rt != nil {
		if rt.MaxAttempts < 0 || rt.BaseDelay < 0 || rt.MaxDelay < 0 {
			return fmt.Errorf("source %s: retry override values must not be negative", s.Key)
		}
	}
	return nil
}

// Request builds a fetch request against the source: the given path and
// query merged over the source defaults. An empty path uses the
// source's default path; request query values win over source values.
func (s *Source) Request(path string, query map[string]string) fetch.Request {
	if path == "" {
		path = s.Path
	}

	merged := make(map[string]string, len(s.Query)+len(query))
	for k, v := range s.Query {
		merged[k] = v
	}
	for k, v := range query {
		merged[k] = v
	}
	if len(merged) == 0 {
		merged = nil
	}

	var retryOverride *fetch.RetryOverride
	if rt := s.Retry; rt != nil {
		retryOverride = &fetch.RetryOverride{
			MaxAttempts: rt.MaxAttempts,
			BaseDelay:   rt.BaseDelay,
			MaxDelay:    rt.MaxDelay,
		}
	}

	return fetch.Request{
		ResourceKey: s.Key,
		BaseURL:     s.BaseURL,
		Path:        path,
		Query:       merged,
		Header:      s.Header,
		UseCache:    !s.NoCache,
		CacheTTL:    s.CacheTTL,
		Timeout:     s.Timeout,
		Retry:       retryOverride,
	}
}
