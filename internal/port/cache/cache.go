// Package cache defines the port interface for caching. The reactor keeps
// issued access tokens and idempotent HTTP responses behind it.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Keys are dotted
// ("token.<principal id>", "idem.<scope>.<key>"); adapters that cannot store
// arbitrary keys must encode them. A zero ttl means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
