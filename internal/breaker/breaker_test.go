package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacol/colfetch/internal/breaker"
)

func testConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      50 * time.Millisecond,
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := breaker.New(testConfig())

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, breaker.StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, breaker.StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), breaker.ErrOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := breaker.New(testConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, breaker.StateClosed, b.State(),
		"non-consecutive failures must not open the circuit")
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := breaker.New(cfg)

	for n := 0; n < cfg.FailureThreshold; n++ {
		b.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, b.State())

	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)

	require.NoError(t, b.Allow(), "probe must be admitted after the open timeout")
	assert.Equal(t, breaker.StateHalfOpen, b.State())
}

func TestBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := breaker.New(cfg)

	for n := 0; n < cfg.FailureThreshold; n++ {
		b.RecordFailure()
	}
	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, breaker.StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, breaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := breaker.New(cfg)

	for n := 0; n < cfg.FailureThreshold; n++ {
		b.RecordFailure()
	}
	time.Sleep(cfg.OpenTimeout + 10*time.Millisecond)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, breaker.StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), breaker.ErrOpen)
}

func TestRegistry_SharedPerKey(t *testing.T) {
	t.Parallel()

	r := breaker.NewRegistry(testConfig())

	assert.Same(t, r.For("dane"), r.For("dane"))
	assert.NotSame(t, r.For("dane"), r.For("banrep"))
}
