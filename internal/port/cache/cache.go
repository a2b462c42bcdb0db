// Package cache defines the key-value cache port. Implementations back
// the idempotency layer and the pending-count fast path.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued cache with per-entry TTL. Get reports a miss
// through the bool, not through an error; errors mean the backend
// itself failed.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
