package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/datacol/colfetch/internal/cache"
)

var (
	// ErrMissingResourceKey is returned when a request has no resource key.
	ErrMissingResourceKey = errors.New("request resource key is required")
	// ErrMissingBaseURL is returned when a request has no base URL.
	ErrMissingBaseURL = errors.New("request base URL is required")
)

// Request describes one logical fetch. It is constructed per call and
// discarded after use; the cache identity is derived from it, not stored
// on it.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string
	// ResourceKey identifies the rate-limited and cached upstream,
	// typically the data source name (dane, banrep, secop).
	ResourceKey string
	// BaseURL is the upstream base URL.
	BaseURL string
	// Path is the request path relative to BaseURL.
	Path string
	// Query holds query parameters. Iteration order never affects the
	// cache fingerprint.
	Query map[string]string
	// Header holds extra request headers.
	Header map[string]string
	// Body is the optional request body.
	Body []byte
	// UseCache enables the response cache for this request.
	UseCache bool
	// CacheTTL overrides the orchestrator's default TTL when positive.
	CacheTTL time.Duration
	// Timeout bounds the transport call. Zero falls back to the HTTP
	// client's own timeout.
	Timeout time.Duration
	// Retry adjusts the retry policy for this request when non-nil.
	Retry *RetryOverride
}

// RetryOverride narrows or widens the orchestrator's retry policy for
// one request. Zero fields keep the policy's values.
type RetryOverride struct {
	// MaxAttempts overrides the total attempt budget when positive.
	MaxAttempts int
	// BaseDelay overrides the delay before the first retry when positive.
	BaseDelay time.Duration
	// MaxDelay overrides the backoff cap when positive.
	MaxDelay time.Duration
}

// Validate checks the request is usable.
func (r *Request) Validate() error {
	if r.ResourceKey == "" {
		return ErrMissingResourceKey
	}
	if r.BaseURL == "" {
		return ErrMissingBaseURL
	}
	return nil
}

// method returns the HTTP method, defaulting to GET.
func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// urlString builds the full request URL from base, path, and query.
func (r *Request) urlString() (string, error) {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	if r.Path != "" {
		u = u.JoinPath(r.Path)
	}

	if len(r.Query) > 0 {
		q := u.Query()
		for k, v := range r.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// cacheKey derives the cache fingerprint for this request under the
// given client identity and schema version. The resource key is part of
// the path component so two sources sharing a path never collide.
func (r *Request) cacheKey(clientID, schemaVersion string) string {
	return cache.Key(clientID, schemaVersion, r.ResourceKey+"/"+r.Path, r.Query)
}
