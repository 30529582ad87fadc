package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	errBadInput = errors.New("bad input")
	errOutage   = errors.New("store unreachable")
)

type countingJob struct {
	err   error
	calls int
	last  interface{}
}

func (j *countingJob) Name() string { return "backfill" }
func (j *countingJob) Type() string { return "forecast.backfill" }
func (j *countingJob) Handle(_ context.Context, payload interface{}) error {
	j.calls++
	j.last = payload
	return j.err
}

func onlyOutages(err error) bool { return errors.Is(err, errOutage) }

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDispose(t *testing.T) {
	cases := []struct {
		err      error
		attempts int
		want     Disposition
	}{
		{nil, 0, Done},
		{errOutage, 0, Retry},
		{errOutage, 2, Retry},
		{errOutage, 3, Dead},
		{errBadInput, 0, Dead},
	}
	for _, tc := range cases {
		if got := Dispose(tc.err, tc.attempts, 3, onlyOutages); got != tc.want {
			t.Fatalf("Dispose(%v, %d) = %s, want %s", tc.err, tc.attempts, got, tc.want)
		}
	}
	if got := Dispose(errBadInput, 0, 3, nil); got != Retry {
		t.Fatalf("nil policy should retry everything, got %s", got)
	}
}

func TestPermanentFailureSkipsRetrySet(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	job := &countingJob{err: errBadInput}
	q := NewRedisConsumer(nil, QueueConfig{RetryLimit: 3, RetryDelay: time.Minute}, client, []Job{job}, WithRetryPolicy(onlyOutages))

	d := q.process(ctx, Message{ID: "m1", Type: job.Type(), Payload: json.RawMessage(`{"symbol":"BTCUSDT"}`)})
	if d != Dead {
		t.Fatalf("disposition=%s, want dead", d)
	}
	if job.calls != 1 {
		t.Fatalf("handler calls=%d, want 1", job.calls)
	}
	if n := client.ZCard(ctx, "volcast:jobs:retry").Val(); n != 0 {
		t.Fatalf("retry set size=%d, want 0", n)
	}
	if n := client.LLen(ctx, "volcast:jobs:dead").Val(); n != 1 {
		t.Fatalf("dead list size=%d, want 1", n)
	}
}

func TestTransientFailureRetriesUntilLimit(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	job := &countingJob{err: errOutage}
	q := NewRedisConsumer(nil, QueueConfig{RetryLimit: 1, RetryDelay: time.Minute}, client, []Job{job},
		WithRetryPolicy(onlyOutages), WithKeyPrefix("test:jobs"))
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	if d := q.process(ctx, Message{ID: "m1", Type: job.Type(), Payload: json.RawMessage(`{}`)}); d != Retry {
		t.Fatalf("first failure: %s, want retry", d)
	}
	if n := client.ZCard(ctx, "test:jobs:retry").Val(); n != 1 {
		t.Fatalf("retry set size=%d, want 1", n)
	}

	// not yet due
	if moved, err := q.promoteDue(ctx); err != nil || moved != 0 {
		t.Fatalf("early promote moved=%d err=%v", moved, err)
	}
	q.now = func() time.Time { return base.Add(2 * time.Minute) }
	if moved, err := q.promoteDue(ctx); err != nil || moved != 1 {
		t.Fatalf("promote moved=%d err=%v", moved, err)
	}

	raw, err := client.RPop(ctx, "test:jobs:pending").Result()
	if err != nil {
		t.Fatalf("pop pending: %v", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Attempts != 1 {
		t.Fatalf("attempts=%d, want 1", msg.Attempts)
	}
	if d := q.process(ctx, msg); d != Dead {
		t.Fatalf("second failure: %s, want dead", d)
	}
	if n := client.LLen(ctx, "test:jobs:dead").Val(); n != 1 {
		t.Fatalf("dead list size=%d, want 1", n)
	}
}

func TestPublishedPayloadReachesJobAsJSON(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	job := &countingJob{}
	pub := NewRedisPublisher(nil, client)
	if err := pub.PublishMessage(ctx, job.Type(), map[string]interface{}{"symbol": "ETHUSDT", "window": 5}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	raw, err := client.RPop(ctx, "volcast:jobs:pending").Result()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == "" || msg.Type != job.Type() {
		t.Fatalf("unexpected envelope %+v", msg)
	}

	q := NewRedisConsumer(nil, QueueConfig{}, client, []Job{job})
	if d := q.process(ctx, msg); d != Done {
		t.Fatalf("disposition=%s", d)
	}
	type payload struct {
		Symbol string `json:"symbol"`
		Window int    `json:"window"`
	}
	p, err := ParsePayload[payload](job.last)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Symbol != "ETHUSDT" || p.Window != 5 {
		t.Fatalf("payload=%+v", p)
	}
}

func TestUnknownTypeIsBuried(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	q := NewRedisConsumer(nil, QueueConfig{}, client, nil)
	if d := q.process(ctx, Message{ID: "x", Type: "forecast.unknown"}); d != Dead {
		t.Fatalf("disposition=%s", d)
	}
	if n := client.LLen(ctx, "volcast:jobs:dead").Val(); n != 1 {
		t.Fatalf("dead list size=%d", n)
	}
}
