// Package driver defines the storage boundary a CacheStack layers tiered
// reads, writes, and invalidation over. An L1 Driver is in-process and
// synchronous (driver/memory, generalizing an LRU+TTL map with a doubly
// linked eviction list); an L2 Driver additionally manages a remote
// connection (driver/redis).
package driver

import (
	"context"
	"time"
)

// Driver is the storage boundary for a single cache tier. Values are
// stored pre-encoded as bytes; the Cache layer above owns codec choice.
type Driver interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteMany removes every key in keys, returning the number actually
	// present and removed.
	DeleteMany(ctx context.Context, keys []string) (int, error)
	// GetMany looks up every key in keys, returning only the ones present.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
}

// RemoteDriver is a Driver backed by a networked store, which needs an
// explicit connection lifecycle distinct from the in-process L1 case.
type RemoteDriver interface {
	Driver
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}
