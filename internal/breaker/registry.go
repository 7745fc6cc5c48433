package breaker

import "sync"

// Registry owns one Breaker per resource key so all fetches against one
// upstream share failure state.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry that builds breakers with the given
// config on first reference.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a resource key, creating it on first use.
func (r *Registry) For(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := New(r.cfg)
	r.breakers[key] = b
	return b
}
