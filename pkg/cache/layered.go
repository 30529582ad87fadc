package cache

import (
	"context"
	"time"
)

// LayeredCache reads through a short-lived memory copy to Redis. Locks always go to
// Redis so two replicas never train the same series at once.
type LayeredCache struct {
	local  *MemoryCache
	remote *RedisCache
	maxTTL time.Duration
}

var _ Service = (*LayeredCache)(nil)

// NewLayeredCache keeps local copies for at most localTTL so a report recomputed on
// another replica shows up here soon after.
func NewLayeredCache(remote *RedisCache, localTTL time.Duration, opts ...MemoryOption) *LayeredCache {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &LayeredCache{local: NewMemoryCache(opts...), remote: remote, maxTTL: localTTL}
}

func (c *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := c.local.Get(ctx, key, &raw); err == nil {
		return decode(raw, dest)
	}
	if err := c.remote.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = c.local.Set(ctx, key, raw, c.maxTTL)
	return decode(raw, dest)
}

// Set writes Redis first; a failed remote write leaves the local copy untouched.
func (c *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	local := c.maxTTL
	if ttl > 0 && ttl < local {
		local = ttl
	}
	return c.local.Set(ctx, key, value, local)
}

func (c *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.remote.TryLock(ctx, key, ttl)
}

func (c *LayeredCache) Unlock(ctx context.Context, key string) error {
	return c.remote.Unlock(ctx, key)
}
