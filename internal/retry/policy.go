// Package retry provides the retry policy for transient fetch failures:
// error classification and exponential backoff with jitter.
//
// The policy is stateless and pure. It never sleeps and performs no I/O;
// the fetch orchestrator owns the actual suspension between attempts.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Default policy values.
const (
	// DefaultMaxAttempts is the default attempt budget, counting the
	// original try.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the default delay before the first retry.
	DefaultBaseDelay = 100 * time.Millisecond
	// DefaultMaxDelay caps the exponential backoff.
	DefaultMaxDelay = 30 * time.Second
	// DefaultJitterFraction spreads delays by ±20% to avoid synchronized
	// retry storms across concurrent callers.
	DefaultJitterFraction = 0.2
)

// Policy decides whether a failed attempt is retried and how long to wait
// before the next one.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the
	// original try. A budget of 3 means at most 3 transport invocations.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// JitterFraction spreads each delay by ±fraction. Zero disables jitter.
	JitterFraction float64
	// IsRetryable classifies an error as transient. A nil classifier
	// retries nothing.
	IsRetryable func(error) bool
}

// NewPolicy returns a policy with the given classifier and default timing.
func NewPolicy(isRetryable func(error) bool) Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		JitterFraction: DefaultJitterFraction,
		IsRetryable:    isRetryable,
	}
}

// ShouldRetry reports whether a failed call should be retried, given the
// number of attempts already used. It is true only when budget remains
// and the classifier marks the error transient.
func (p Policy) ShouldRetry(err error, attemptsUsed int) bool {
	if err == nil {
		return false
	}
	if attemptsUsed >= p.MaxAttempts {
		return false
	}
	return p.IsRetryable != nil && p.IsRetryable(err)
}

// NextDelay computes the wait before a retry. Numbering starts at 0 for
// the first retry: min(MaxDelay, BaseDelay * 2^attempt), spread by
// ±JitterFraction.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}

	if p.JitterFraction > 0 {
		// Uniform in [1-f, 1+f).
		factor := 1 + p.JitterFraction*(2*rand.Float64()-1)
		delay *= factor
	}

	return time.Duration(delay)
}
