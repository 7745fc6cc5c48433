package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datacol/colfetch/internal/retry"
)

var errTransient = errors.New("connection reset")

func alwaysRetryable(error) bool { return true }

func TestPolicy_ShouldRetryBoundedByMaxAttempts(t *testing.T) {
	t.Parallel()

	p := retry.NewPolicy(alwaysRetryable)
	p.MaxAttempts = 3

	assert.True(t, p.ShouldRetry(errTransient, 1), "budget remains after the first attempt")
	assert.True(t, p.ShouldRetry(errTransient, 2))
	assert.False(t, p.ShouldRetry(errTransient, 3), "a spent budget must not retry")
	assert.False(t, p.ShouldRetry(errTransient, 10))
}

func TestPolicy_ShouldRetryRespectsClassifier(t *testing.T) {
	t.Parallel()

	permanent := errors.New("HTTP 404")
	p := retry.NewPolicy(func(err error) bool {
		return errors.Is(err, errTransient)
	})

	assert.True(t, p.ShouldRetry(errTransient, 1))
	assert.False(t, p.ShouldRetry(permanent, 1))
	assert.False(t, p.ShouldRetry(nil, 1))
}

func TestPolicy_NilClassifierRetriesNothing(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 3}
	assert.False(t, p.ShouldRetry(errTransient, 1))
}

func TestPolicy_NextDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	p := retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		// Jitter disabled for exact assertions.
	}

	assert.Equal(t, 100*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 400*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 800*time.Millisecond, p.NextDelay(3))
}

func TestPolicy_NextDelayCappedAtMax(t *testing.T) {
	t.Parallel()

	p := retry.Policy{
		BaseDelay: time.Second,
		MaxDelay:  4 * time.Second,
	}

	assert.Equal(t, 4*time.Second, p.NextDelay(10))
}

func TestPolicy_NextDelayJitterWithinBounds(t *testing.T) {
	t.Parallel()

	p := retry.Policy{
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
		JitterFraction: 0.2,
	}

	for i := 0; i < 100; i++ {
		d := p.NextDelay(1) // nominal 2s
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestPolicy_NextDelayNegativeAttempt(t *testing.T) {
	t.Parallel()

	p := retry.Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(-1))
}
