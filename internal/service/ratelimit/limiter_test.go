package ratelimit

import (
	"testing"
	"time"
)

func TestAllowDrainsAndRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.Allow("train", 2, 1) {
			t.Fatalf("request %d denied", i)
		}
	}
	if l.Allow("train", 2, 1) {
		t.Fatalf("expected empty bucket to deny")
	}
	if !l.Allow("predict", 2, 1) {
		t.Fatalf("keys must not share a bucket")
	}

	now = now.Add(1500 * time.Millisecond)
	if !l.Allow("train", 2, 1) {
		t.Fatalf("expected refill after 1.5s")
	}
	if l.Allow("train", 2, 1) {
		t.Fatalf("only one token should have refilled")
	}
}
