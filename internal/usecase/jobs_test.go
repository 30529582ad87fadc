package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/services/backtest"
	"VolCast/pkg/queue"
)

type jobRecorder struct {
	freq         domrepo.Frequency
	testFraction float64
	retrainEvery int
	window       int
	trained      int
	backfillErr  error
	backfills    atomic.Int32
}

func (r *jobRecorder) Backtest(ctx context.Context, symbol string, freq domrepo.Frequency, tf float64, re int) (*models.BacktestReport, error) {
	r.freq, r.testFraction, r.retrainEvery = freq, tf, re
	return &models.BacktestReport{}, nil
}

func (r *jobRecorder) PredictLatest(ctx context.Context, symbol string, freq domrepo.Frequency) (int, error) {
	return 0, nil
}

func (r *jobRecorder) Backfill(ctx context.Context, symbol string, freq domrepo.Frequency, window int) (int, error) {
	r.backfills.Add(1)
	if r.backfillErr != nil {
		return 0, r.backfillErr
	}
	r.freq, r.window = freq, window
	return window, nil
}

func (r *jobRecorder) Train(ctx context.Context, symbol string, freq domrepo.Frequency) (*models.ModelArtifact, error) {
	r.trained++
	return &models.ModelArtifact{}, nil
}

func TestBacktestJobFillsDefaultsFromDecodedPayload(t *testing.T) {
	rec := &jobRecorder{}
	job := NewBacktestJob(rec, backtest.Config{TestFraction: 0.7, RetrainEvery: 24})

	// payloads arrive from Redis as decoded JSON maps
	payload := map[string]interface{}{"symbol": testSymbol, "freq": "1d", "retrain_every": 12.0}
	if err := job.Handle(context.Background(), payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if rec.freq != domrepo.Freq1d || rec.testFraction != 0.7 || rec.retrainEvery != 12 {
		t.Fatalf("unexpected call freq=%s tf=%v re=%d", rec.freq, rec.testFraction, rec.retrainEvery)
	}
}

func TestJobsRejectBadPayloads(t *testing.T) {
	rec := &jobRecorder{}
	train := NewTrainJob(rec)
	if err := train.Handle(context.Background(), &JobPayload{Symbol: testSymbol, Freq: "5m"}); err == nil {
		t.Fatalf("expected unsupported frequency error")
	}
	if err := train.Handle(context.Background(), &JobPayload{Freq: "1h"}); err == nil {
		t.Fatalf("expected missing symbol error")
	}
	if rec.trained != 0 {
		t.Fatalf("trainer must not run for bad payloads")
	}
}

func TestBackfillJobPassesWindow(t *testing.T) {
	rec := &jobRecorder{}
	job := NewBackfillJob(rec)
	if err := job.Handle(context.Background(), &JobPayload{Symbol: testSymbol, Freq: "1h", Window: 25}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if rec.window != 25 || rec.freq != domrepo.Freq1h {
		t.Fatalf("unexpected call window=%d freq=%s", rec.window, rec.freq)
	}
}

func TestJobQueueDoesNotRetryDataErrors(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rec := &jobRecorder{backfillErr: &errs.DataError{Field: "close", Reason: "non-positive close 0"}}
	q := queue.NewRedisConsumer(nil, queue.QueueConfig{Workers: 1, RetryLimit: 3, RetryDelay: time.Second}, client,
		[]queue.Job{NewBackfillJob(rec)}, queue.WithRetryPolicy(errs.Retryable))
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = q.Stop(ctx) }()

	if err := q.PublishMessage(ctx, JobTypeBackfill, JobPayload{Symbol: testSymbol, Freq: "1h", Window: 5}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for client.LLen(ctx, "volcast:jobs:dead").Val() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("message never reached the dead list")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := client.ZCard(ctx, "volcast:jobs:retry").Val(); n != 0 {
		t.Fatalf("data error scheduled for retry: retry set size=%d", n)
	}
	if n := rec.backfills.Load(); n != 1 {
		t.Fatalf("backfill calls=%d, want 1", n)
	}
}
