package ratelimit

import (
	"context"
	"fmt"
	"sync"
)

// Registry owns one Limiter per resource key, created lazily on first use
// and kept for the process lifetime so every caller hitting the same key
// shares one rate budget.
//
// The override table is static construction-time configuration; per-key
// policy is not hot-reloadable.
type Registry struct {
	mu        sync.Mutex
	def       Budget
	overrides map[string]Budget
	limiters  map[string]*Limiter
}

// NewRegistry creates a registry with a default budget and optional
// per-key overrides. All budgets are validated here so LimiterFor never
// fails.
func NewRegistry(def Budget, overrides map[string]Budget) (*Registry, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default budget: %w", err)
	}
	for key, b := range overrides {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("budget for %q: %w", key, err)
		}
	}

	copied := make(map[string]Budget, len(overrides))
	for key, b := range overrides {
		copied[key] = b
	}

	return &Registry{
		def:       def,
		overrides: copied,
		limiters:  make(map[string]*Limiter),
	}, nil
}

// LimiterFor returns the limiter for a resource key, creating it on first
// reference. Repeated calls with the same key return the same instance.
// Creation happens under the registry lock, so a concurrent first access
// for one key never produces two limiters.
func (r *Registry) LimiterFor(key string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}

	budget := r.def
	if override, ok := r.overrides[key]; ok {
		budget = override
	}

	// Budgets were validated at construction.
	l, err := NewLimiter(budget)
	if err != nil {
		panic(fmt.Sprintf("ratelimit: invalid budget for %q: %v", key, err))
	}
	r.limiters[key] = l
	return l
}

// Acquire admits one request for the given resource key, blocking until
// the key's budget has room or ctx is cancelled.
func (r *Registry) Acquire(ctx context.Context, key string) error {
	return r.LimiterFor(key).Acquire(ctx)
}

// Keys returns the resource keys with an instantiated limiter.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.limiters))
	for key := range r.limiters {
		keys = append(keys, key)
	}
	return keys
}
