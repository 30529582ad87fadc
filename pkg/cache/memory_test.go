package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheTypedGetFromJSONString(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	if err := mc.Set(ctx, "bt", `{"model_mae":0.5,"rows":10}`, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got struct {
		ModelMAE float64 `json:"model_mae"`
		Rows     int     `json:"rows"`
	}
	if err := mc.Get(ctx, "bt", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ModelMAE != 0.5 || got.Rows != 10 {
		t.Fatalf("unexpected value %+v", got)
	}
	if err := mc.Get(ctx, "missing", &got); err != ErrCacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestMemoryCacheExpiresReports(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryCache()
	mc.now = func() time.Time { return now }

	if err := mc.Set(ctx, "backtest:BTCUSDT:1h", "report", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(2 * time.Minute)
	var s string
	if err := mc.Get(ctx, "backtest:BTCUSDT:1h", &s); err != ErrCacheMiss {
		t.Fatalf("expected expired report to miss, got %q %v", s, err)
	}
}

func TestMemoryCacheEvictsSoonestExpiryWhenFull(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))

	_ = mc.Set(ctx, "short", "a", time.Second)
	_ = mc.Set(ctx, "long", "b", time.Hour)
	_ = mc.Set(ctx, "new", "c", time.Hour)

	if mc.Len() != 2 {
		t.Fatalf("len=%d, want 2", mc.Len())
	}
	var s string
	if err := mc.Get(ctx, "short", &s); err != ErrCacheMiss {
		t.Fatalf("short-lived entry should be evicted first, got %q", s)
	}
	if err := mc.Get(ctx, "long", &s); err != nil || s != "b" {
		t.Fatalf("long: %q %v", s, err)
	}
}

func TestMemoryCacheTryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	key := Key("lock:train", "BTCUSDT", "1h")

	ok, err := mc.TryLock(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock should succeed: %v %v", ok, err)
	}
	ok, _ = mc.TryLock(ctx, key, time.Minute)
	if ok {
		t.Fatalf("second lock should fail while held")
	}
	if err := mc.Unlock(ctx, key); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, _ = mc.TryLock(ctx, key, time.Minute)
	if !ok {
		t.Fatalf("lock should be free after unlock")
	}
}

func TestKeyJoinsParts(t *testing.T) {
	if got := Key("backtest", "ETHUSDT", "1d", "garch", 0.2, 5); got != "backtest:ETHUSDT:1d:garch:0.2:5" {
		t.Fatalf("got %q", got)
	}
}
