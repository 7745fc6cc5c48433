package sources

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/datacol/colfetch/internal/ratelimit"
)

// Catalog is a validated, key-addressable set of sources. It is
// immutable after construction and safe for concurrent reads.
type Catalog struct {
	byKey map[string]*Source
	order []string
}

// catalogFile is the on-disk shape of a source catalog.
type catalogFile struct {
	Sources []Source `yaml:"sources"`
}

// NewCatalog validates the entries and builds a catalog. Keys must be
// unique; iteration order follows the input.
func NewCatalog(entries []Source) (*Catalog, error) {
	c := &Catalog{
		byKey: make(map[string]*Source, len(entries)),
		order: make([]string, 0, len(entries)),
	}

	for i := range entries {
		src := entries[i]
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.byKey[src.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, src.Key)
		}
		c.byKey[src.Key] = &src
		c.order = append(c.order, src.Key)
	}
	return c, nil
}

// Load reads and validates a YAML source catalog.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	return NewCatalog(file.Sources)
}

// Get returns the source for key.
func (c *Catalog) Get(key string) (*Source, bool) {
	src, ok := c.byKey[key]
	return src, ok
}

// Keys returns the source keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

// Len returns the number of sources.
func (c *Catalog) Len() int {
	return len(c.order)
}

// All returns the sources in catalog order.
func (c *Catalog) All() []*Source {
	out := make([]*Source, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byKey[key])
	}
	return out
}

// Budgets collects the per-source admission overrides, keyed by source
// key, in the shape the rate limiter registry consumes.
func (c *Catalog) Budgets() map[string]ratelimit.Budget {
	overrides := make(map[string]ratelimit.Budget)
	for _, key := range c.order {
		if rl := c.byKey[key].RateLimit; rl != nil {
			overrides[key] = ratelimit.Budget{
				MaxRequests: rl.MaxRequests,
				Window:      rl.Window,
			}
		}
	}
	return overrides
}
