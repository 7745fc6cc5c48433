// Package ratelimit provides per-source admission control for outbound
// requests. Admission is backpressure, not rejection: Acquire blocks until
// the sliding-window budget has room, so no request is ever dropped.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidMaxRequests is returned when the request budget is not positive.
	ErrInvalidMaxRequests = errors.New("max requests must be positive")
	// ErrInvalidWindow is returned when the window duration is not positive.
	ErrInvalidWindow = errors.New("window duration must be positive")
)

// Budget describes a sliding-window rate budget: at most MaxRequests
// admissions within any trailing Window.
type Budget struct {
	// MaxRequests is the maximum number of admissions per window.
	MaxRequests int `yaml:"max_requests"`
	// Window is the trailing duration the budget applies to.
	Window time.Duration `yaml:"window"`
}

// Validate checks that the budget is usable.
func (b Budget) Validate() error {
	if b.MaxRequests <= 0 {
		return ErrInvalidMaxRequests
	}
	if b.Window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}

// Limiter is a sliding-window rate limiter for a single resource key.
// It records the admission time of each request and blocks new admissions
// while the trailing window is full.
//
// Waiters are not admitted in FIFO order; only the rate bound is exact.
type Limiter struct {
	mu     sync.Mutex
	budget Budget
	stamps []time.Time
	now    func() time.Time
}

// NewLimiter creates a sliding-window limiter. A zero MaxRequests or
// Window is a configuration error and fails here, not at acquire time.
func NewLimiter(budget Budget) (*Limiter, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		budget: budget,
		stamps: make([]time.Time, 0, budget.MaxRequests),
		now:    time.Now,
	}, nil
}

// Acquire blocks until the budget admits one request, then records the
// admission. It returns early only when ctx is cancelled.
//
// After every wake the window is re-pruned and re-checked: several waiters
// racing for one freed slot may wake together and must re-validate rather
// than assume admission.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.stamps) < l.budget.MaxRequests {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}

		// Window is full: the next slot frees when the oldest stamp ages out.
		wait := l.budget.Window - now.Sub(l.stamps[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		// The lock is never held across this sleep.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// prune drops admission stamps older than the trailing window.
// Caller must hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.budget.Window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// Pending returns the number of admissions currently inside the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// Budget returns the limiter's configured budget.
func (l *Limiter) Budget() Budget {
	return l.budget
}
