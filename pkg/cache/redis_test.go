package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newRedisCache(client, "test"), mr
}

func TestRedisCachePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestRedisCache(t)

	if err := rc.Set(ctx, "backtest:BTCUSDT", map[string]float64{"model_mae": 0.4}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := mr.Get("test:backtest:BTCUSDT")
	if err != nil || raw != `{"model_mae":0.4}` {
		t.Fatalf("stored %q %v", raw, err)
	}
	var got map[string]float64
	if err := rc.Get(ctx, "backtest:BTCUSDT", &got); err != nil || got["model_mae"] != 0.4 {
		t.Fatalf("get: %v %v", got, err)
	}
	if err := rc.Get(ctx, "backtest:ETHUSDT", &got); err != ErrCacheMiss {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestRedisUnlockLeavesAnotherHoldersLock(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestRedisCache(t)
	other := newRedisCache(rc.Client(), "test")
	key := Key("lock:train", "BTCUSDT", "1h")

	ok, err := rc.TryLock(ctx, key, time.Second)
	if err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	// training overran the lock ttl and another replica took over
	mr.FastForward(2 * time.Second)
	ok, err = other.TryLock(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("second holder lock: %v %v", ok, err)
	}

	if err := rc.Unlock(ctx, key); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !mr.Exists("test:" + key) {
		t.Fatalf("stale holder released a lock it no longer owns")
	}
	if err := other.Unlock(ctx, key); err != nil {
		t.Fatalf("owner unlock: %v", err)
	}
	if mr.Exists("test:" + key) {
		t.Fatalf("owner unlock should delete the key")
	}
}

func TestLayeredCacheServesLocalCopyThenRefreshes(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestRedisCache(t)
	lc := NewLayeredCache(rc, time.Minute)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lc.local.now = func() time.Time { return now }

	if err := lc.Set(ctx, "bt", "v1", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	// another replica recomputes the report
	if err := mr.Set("test:bt", "v2"); err != nil {
		t.Fatal(err)
	}

	var s string
	if err := lc.Get(ctx, "bt", &s); err != nil || s != "v1" {
		t.Fatalf("local copy: %q %v", s, err)
	}
	now = now.Add(2 * time.Minute)
	if err := lc.Get(ctx, "bt", &s); err != nil || s != "v2" {
		t.Fatalf("after local ttl: %q %v", s, err)
	}
}

func TestLayeredCacheLocksInRedis(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestRedisCache(t)
	lc := NewLayeredCache(rc, time.Minute)

	ok, err := lc.TryLock(ctx, "lock:train:BTCUSDT:1h", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	if !mr.Exists("test:lock:train:BTCUSDT:1h") {
		t.Fatalf("lock should live in redis")
	}
	if ok, _ := NewLayeredCache(rc, time.Minute).TryLock(ctx, "lock:train:BTCUSDT:1h", time.Minute); ok {
		t.Fatalf("second replica should not get the lock")
	}
}
