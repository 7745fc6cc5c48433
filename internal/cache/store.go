// Package cache provides TTL response caching for the fetch fabric.
// Stores map a request fingerprint to an opaque encoded payload; entries
// expire lazily on read and are replaced, never mutated, on write.
//
// Expiry is TTL-only; there is no capacity-based eviction.
package cache

import (
	"context"
	"time"
)

// Store is the interface shared by all cache backends.
//
// Backend failures must never fail a fetch; the orchestrator treats a Get
// error as a miss and a Put error as a no-op, logging either at warn.
type Store interface {
	// Get returns the entry for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put stores value under key with the given ttl, unconditionally
	// replacing any existing entry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
