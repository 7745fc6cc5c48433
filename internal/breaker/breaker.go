// Package breaker provides per-source circuit breakers for upstream
// calls. A source that keeps failing trips its breaker open; calls during
// the open period fail immediately instead of hammering a struggling host.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit is open and calls are blocked.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed means calls are allowed.
	StateClosed State = iota
	// StateOpen means calls are blocked.
	StateOpen
	// StateHalfOpen means a limited number of probe calls are allowed to
	// test whether the upstream recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 60 * time.Second
)

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int `yaml:"failure_threshold"`
	// SuccessThreshold is the number of consecutive half-open successes
	// before the circuit closes again.
	SuccessThreshold int `yaml:"success_threshold"`
	// OpenTimeout is how long the circuit stays open before allowing a
	// half-open probe.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// withDefaults fills in zero fields.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	return c
}

// Breaker implements the circuit breaker pattern for one resource key.
type Breaker struct {
	mu           sync.Mutex
	cfg          Config
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
	now          func() time.Time
}

// New creates a circuit breaker, filling defaults for zero config fields.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrOpen until the open timeout elapses, at which point the breaker
// moves to half-open and admits probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.successCount = 0
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	case StateOpen:
		// A success cannot be observed while open; Allow blocked the call.
	}
}

// RecordFailure records a failed call. A half-open failure reopens the
// circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateOpen:
	}
}

// open transitions to the open state. Caller must hold b.mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failureCount = 0
	b.successCount = 0
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
