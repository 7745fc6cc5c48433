// Package fetch implements the resilient fetch orchestrator: admission
// control, response caching, retry with backoff, and bounded-concurrency
// batch fetching composed around a pluggable transport and decoder.
package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/datacol/colfetch/internal/breaker"
	"github.com/datacol/colfetch/internal/cache"
	"github.com/datacol/colfetch/internal/logger"
	"github.com/datacol/colfetch/internal/metrics"
	"github.com/datacol/colfetch/internal/retry"
)

// DefaultSchemaVersion namespaces cache entries until a client opts into
// explicit payload versioning.
const DefaultSchemaVersion = "v1"

// DefaultCacheTTL applies when neither the request nor the orchestrator
// configures a TTL.
const DefaultCacheTTL = 15 * time.Minute

// ErrNilDependency is returned when a required dependency is missing.
var ErrNilDependency = errors.New("transport, admitter, and store are required")

// ErrMissingClientID is returned when the orchestrator has no client
// identity for cache namespacing.
var ErrMissingClientID = errors.New("client identity is required")

// Admitter gates request issuance per resource key. Acquire blocks until
// the key's rate budget admits one request or ctx is cancelled.
type Admitter interface {
	Acquire(ctx context.Context, key string) error
}

// TransformFunc is the caller-supplied hook converting a decoded payload
// into a domain record. The fetch fabric never inspects payload semantics
// beyond its content-type tag.
type TransformFunc func(*Payload) (any, error)

// Result is a successful fetch: the decoded payload plus metadata.
type Result struct {
	// Payload is the decoded, content-tagged response.
	Payload *Payload
	// Source is the resource key the payload came from.
	Source string
	// FetchID correlates log entries for this fetch.
	FetchID string
	// FetchedAt is when the result was produced.
	FetchedAt time.Time
	// Cached reports whether the payload came from the response cache.
	Cached bool
	// Attempts is the number of transport invocations used; zero on a
	// cache hit.
	Attempts int
}

// Orchestrator composes admission control, response caching, and retry
// around single fetches and bounded-concurrency batches.
type Orchestrator struct {
	transport     Transport
	admitter      Admitter
	store         cache.Store
	policy        retry.Policy
	breakers      *breaker.Registry
	metrics       *metrics.Metrics
	log           logger.Logger
	clientID      string
	schemaVersion string
	defaultTTL    time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithBreakers enables per-source circuit breakers.
func WithBreakers(r *breaker.Registry) Option {
	return func(o *Orchestrator) {
		o.breakers = r
	}
}

// WithSchemaVersion sets the cache schema version. Bump it when the
// payload shape served to transforms changes, to invalidate old-shape
// cache entries.
func WithSchemaVersion(v string) Option {
	return func(o *Orchestrator) {
		o.schemaVersion = v
	}
}

// WithDefaultCacheTTL sets the TTL used when a request does not carry one.
func WithDefaultCacheTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.defaultTTL = ttl
	}
}

// New creates an orchestrator. The retry policy's classifier defaults to
// the fetch error taxonomy when unset.
func New(
	clientID string,
	transport Transport,
	admitter Admitter,
	store cache.Store,
	policy retry.Policy,
	opts ...Option,
) (*Orchestrator, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	if transport == nil || admitter == nil || store == nil {
		return nil, ErrNilDependency
	}

	if policy.IsRetryable == nil {
		policy.IsRetryable = IsTransient
	}

	o := &Orchestrator{
		transport:     transport,
		admitter:      admitter,
		store:         store,
		policy:        policy,
		log:           logger.NewNop(),
		clientID:      clientID,
		schemaVersion: DefaultSchemaVersion,
		defaultTTL:    DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// DefaultPolicy returns the retry policy used by assembled clients:
// default timing with the fetch error taxonomy as classifier.
func DefaultPolicy() retry.Policy {
	return retry.NewPolicy(IsTransient)
}

// Fetch runs one logical fetch through the full state machine:
// cache check, admission wait, transport with retry, decode, cache put.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, permanentErr("request", 0, err)
	}

	fetchID := uuid.NewString()
	log := o.log.With(
		logger.String("fetch_id", fetchID),
		logger.String("source", req.ResourceKey),
	)

	if o.metrics != nil {
		o.metrics.InFlight.Inc()
		defer o.metrics.InFlight.Dec()
	}
	start := time.Now()

	key := req.cacheKey(o.clientID, o.schemaVersion)
	if req.UseCache {
		if payload, ok := o.cacheGet(ctx, key, req.ResourceKey, log); ok {
			log.Debug("cache hit")
			o.recordOutcome(req.ResourceKey, "cache_hit", start)
			return &Result{
				Payload:   payload,
				Source:    req.ResourceKey,
				FetchID:   fetchID,
				FetchedAt: time.Now(),
				Cached:    true,
			}, nil
		}
	}

	resp, attempts, err := o.fetchWithRetry(ctx, &req, log)
	if err != nil {
		kind, _ := KindOf(err)
		log.Warn("fetch failed",
			logger.String("kind", kind.String()),
			logger.Int("attempts", attempts),
			logger.Err(err),
		)
		o.recordOutcome(req.ResourceKey, kind.String(), start)
		return nil, err
	}

	payload, err := DecodePayload(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		log.Warn("decode failed", logger.Err(err))
		o.recordOutcome(req.ResourceKey, DecodeFailure.String(), start)
		return nil, err
	}

	if req.UseCache {
		o.cachePut(ctx, key, payload, o.ttlFor(&req), req.ResourceKey, log)
	}

	log.Debug("fetch succeeded",
		logger.Int("attempts", attempts),
		logger.String("content_kind", string(payload.Kind)),
	)
	o.recordOutcome(req.ResourceKey, "success", start)

	return &Result{
		Payload:   payload,
		Source:    req.ResourceKey,
		FetchID:   fetchID,
		FetchedAt: time.Now(),
		Attempts:  attempts,
	}, nil
}

// FetchRecord runs Fetch and applies the caller's transform hook to the
// decoded payload.
func (o *Orchestrator) FetchRecord(
	ctx context.Context,
	req Request,
	transform TransformFunc,
) (any, *Result, error) {
	result, err := o.Fetch(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	record, err := transform(result.Payload)
	if err != nil {
		return nil, result, err
	}
	return record, result, nil
}

// fetchWithRetry drives the admission/transport/retry loop. Every attempt
// re-enters admission control: a retried request respects rate limiting
// again instead of bypassing it. The returned attempt count is the number
// of transport invocations.
func (o *Orchestrator) fetchWithRetry(
	ctx context.Context,
	req *Request,
	log logger.Logger,
) (*Response, int, error) {
	policy := o.policyFor(req)

	var (
		attempts int // transport invocations used
		tries    int // loop iterations, bounding breaker-open spins too
	)

	for {
		waitStart := time.Now()
		if err := o.admitter.Acquire(ctx, req.ResourceKey); err != nil {
			return nil, attempts, permanentErr("admission", 0, err)
		}
		if o.metrics != nil {
			o.metrics.AdmissionWaitSeconds.
				WithLabelValues(req.ResourceKey).
				Observe(time.Since(waitStart).Seconds())
		}

		resp, sendErr := o.sendOnce(ctx, req, &attempts)
		tries++
		if sendErr == nil {
			return resp, attempts, nil
		}

		if !policy.ShouldRetry(sendErr, tries) {
			if IsTransient(sendErr) {
				return nil, attempts, exhaustedErr(attempts, sendErr)
			}
			return nil, attempts, sendErr
		}

		delay := policy.NextDelay(tries - 1)
		if o.metrics != nil {
			o.metrics.RetriesTotal.WithLabelValues(req.ResourceKey).Inc()
		}
		log.Debug("retrying after transient failure",
			logger.Int("retry", tries),
			logger.Duration("delay", delay),
			logger.Err(sendErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempts, permanentErr("fetch", 0, ctx.Err())
		case <-timer.C:
		}
	}
}

// sendOnce issues one transport call, consulting the circuit breaker
// when one is configured. An open circuit counts as a transient failure
// without spending a transport invocation.
func (o *Orchestrator) sendOnce(ctx context.Context, req *Request, attempts *int) (*Response, error) {
	var br *breaker.Breaker
	if o.breakers != nil {
		br = o.breakers.For(req.ResourceKey)
		if err := br.Allow(); err != nil {
			return nil, transientErr("breaker", 0, err)
		}
	}

	*attempts++
	resp, err := o.transport.Send(ctx, req)

	if br != nil {
		switch {
		case err == nil:
			br.RecordSuccess()
		case IsTransient(err):
			// Only upstream-health failures feed the breaker; a 404 says
			// nothing about whether the host is struggling.
			br.RecordFailure()
		}
	}

	return resp, err
}

// policyFor resolves the retry policy for a request, applying any
// per-request override on top of the orchestrator's policy.
func (o *Orchestrator) policyFor(req *Request) retry.Policy {
	policy := o.policy
	if ov := req.Retry; ov != nil {
		if ov.MaxAttempts > 0 {
			policy.MaxAttempts = ov.MaxAttempts
		}
		if ov.BaseDelay > 0 {
			policy.BaseDelay = ov.BaseDelay
		}
		if ov.MaxDelay > 0 {
			policy.MaxDelay = ov.MaxDelay
		}
	}
	return policy
}

// ttlFor resolves the cache TTL for a request.
func (o *Orchestrator) ttlFor(req *Request) time.Duration {
	if req.CacheTTL > 0 {
		return req.CacheTTL
	}
	return o.defaultTTL
}

// cacheGet reads the cache. Backend failures and corrupt entries degrade
// to a miss; they are logged and counted but never surfaced.
func (o *Orchestrator) cacheGet(ctx context.Context, key, source string, log logger.Logger) (*Payload, bool) {
	raw, ok, err := o.store.Get(ctx, key)
	if err != nil {
		log.Warn("cache read failed, treating as miss", logger.Err(err))
		o.recordCacheError(source, "get")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	payload, err := decodeCachedPayload(raw)
	if err != nil {
		log.Warn("cache entry corrupt, treating as miss", logger.Err(err))
		o.recordCacheError(source, "decode")
		return nil, false
	}

	if o.metrics != nil {
		o.metrics.CacheHitsTotal.WithLabelValues(source).Inc()
	}
	return payload, true
}

// cachePut writes the cache. Failures degrade to a no-op; the fetch has
// already succeeded and the caller gets its payload regardless.
func (o *Orchestrator) cachePut(
	ctx context.Context,
	key string,
	payload *Payload,
	ttl time.Duration,
	source string,
	log logger.Logger,
) {
	raw, err := encodePayload(payload)
	if err != nil {
		log.Warn("cache encode failed, skipping write", logger.Err(err))
		o.recordCacheError(source, "encode")
		return
	}

	if err := o.store.Put(ctx, key, raw, ttl); err != nil {
		log.Warn("cache write failed, skipping", logger.Err(err))
		o.recordCacheError(source, "put")
	}
}

func (o *Orchestrator) recordCacheError(source, op string) {
	if o.metrics != nil {
		o.metrics.CacheErrorsTotal.WithLabelValues(source, op).Inc()
	}
}

func (o *Orchestrator) recordOutcome(source, outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.FetchesTotal.WithLabelValues(source, outcome).Inc()
	o.metrics.FetchDurationSeconds.WithLabelValues(source).Observe(time.Since(start).Seconds())
}
