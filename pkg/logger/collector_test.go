package logger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("boom")

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
	done    chan struct{}
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	select {
	case p.done <- struct{}{}:
	default:
	}
	return nil
}

func TestCollectorAggregatesDuplicatesAndFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "volcast.logs",
		Publisher:      pub,
	})
	defer c.Close()

	fields := map[string]interface{}{"table": "predictions"}
	c.AddLog("error", "insert failed", fields, "store.go:10")
	c.AddLog("error", "insert failed", fields, "store.go:10")
	c.AddLog("warn", "slow query", nil, "store.go:20")

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("collector did not flush")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topic != "volcast.logs" {
		t.Fatalf("unexpected topic %q", pub.topic)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("expected one batch of two entries, got %+v", pub.batches)
	}
	for _, e := range pub.batches[0] {
		if e.Message == "insert failed" && e.Count != 2 {
			t.Fatalf("expected duplicate count 2, got %d", e.Count)
		}
	}
}

func TestCollectorFlushesPendingOnClose(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 50, Topic: "volcast.logs", Publisher: pub})
	c.AddLog("warn", "refit skipped", map[string]interface{}{"symbol": "BTCUSDT"}, "trainer.go:80")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.batches[0][0].Message != "refit skipped" {
		t.Fatalf("expected pending entry flushed on close, got %+v", pub.batches)
	}
}

func TestLoggerChildrenShareCollector(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	l := Nop()
	child := l.With(String("symbol", "ETHUSDT"))
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 50, Topic: "volcast.logs", Publisher: pub})

	child.Info("not collected")
	child.Error("backtest failed", String("freq", "1d"), Error(errTest), Duration("duration_ms", 1500*time.Millisecond))
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || len(pub.batches[0]) != 1 {
		t.Fatalf("expected one collected entry, got %+v", pub.batches)
	}
	e := pub.batches[0][0]
	if e.Level != "error" || e.Fields["freq"] != "1d" || e.Fields["error"] != "boom" || e.Fields["duration_ms"] != int64(1500) {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !strings.HasSuffix(strings.Split(e.Caller, ":")[0], "collector_test.go") {
		t.Fatalf("caller should point at the logging call site, got %q", e.Caller)
	}
}
