// Package tiered combines a local in-process cache with a shared remote
// cache behind the cache port. Reads prefer the local tier and backfill it
// on a remote hit; writes and deletes go to both tiers.
package tiered

import (
	"context"
	"time"

	"github.com/tillerhq/tiller/internal/port/cache"
)

// Cache layers a local tier over a remote one.
type Cache struct {
	local       cache.Cache
	remote      cache.Cache
	backfillTTL time.Duration
}

// New creates a tiered cache. backfillTTL bounds how long a remote hit
// lives in the local tier.
func New(local, remote cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{local: local, remote: remote, backfillTTL: backfillTTL}
}

// Get checks the local tier first, then the remote one, backfilling the
// local tier on a remote hit.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = c.local.Set(ctx, key, val, c.backfillTTL)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes to both tiers.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}
