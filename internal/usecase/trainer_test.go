package usecase

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/repository"
	"VolCast/internal/services/forecast"
	"VolCast/pkg/cache"
	"VolCast/pkg/metrics"
)

func TestTrainInsufficientData(t *testing.T) {
	s := seeded(t, 20)
	locks := cache.NewMemoryCache()

	for _, kind := range []forecast.Kind{forecast.KindLinear, forecast.KindGARCH} {
		uc := NewTrainerUseCase(s, locks, metrics.Noop{}, testConfig(kind))
		_, err := uc.Train(context.Background(), testSymbol, domrepo.Freq1h)
		if !errors.Is(err, errs.ErrInsufficientData) {
			t.Fatalf("%s: expected insufficient data, got %v", kind, err)
		}
	}
	art, _ := s.LatestArtifact(context.Background(), testSymbol, domrepo.Freq1h, models.TargetAbsReturn)
	if art != nil {
		t.Fatalf("no artifact should be stored")
	}
}

func TestTrainStoresTaggedArtifact(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 300)
	locks := cache.NewMemoryCache()

	uc := NewTrainerUseCase(s, locks, metrics.Noop{}, testConfig(forecast.KindLinear))
	uc.now = fixedClock(base.Add(400 * time.Hour))
	art, err := uc.Train(ctx, testSymbol, domrepo.Freq1h)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	stored, err := s.LatestArtifact(ctx, testSymbol, domrepo.Freq1h, models.TargetAbsReturn)
	if err != nil || stored == nil || stored.ID != art.ID {
		t.Fatalf("stored artifact mismatch: %+v %v", stored, err)
	}
	m, err := forecast.Unmarshal(stored.Payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Kind != forecast.KindLinear || m.Linear == nil || len(m.Linear.Columns) != len(testConfig(forecast.KindLinear).Features.Columns()) {
		t.Fatalf("unexpected model %+v", m)
	}
	if stored.ModelType != "linear" || !stored.TrainedAt.Equal(base.Add(400*time.Hour)) {
		t.Fatalf("unexpected artifact metadata %+v", stored)
	}
}

func TestTrainRefusesWhileLocked(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 100)
	locks := cache.NewMemoryCache()

	key := cache.Key("lock:train", testSymbol, domrepo.Freq1h)
	if ok, _ := locks.TryLock(ctx, key, time.Minute); !ok {
		t.Fatalf("could not take lock")
	}
	uc := NewTrainerUseCase(s, locks, metrics.Noop{}, testConfig(forecast.KindLinear))
	if _, err := uc.Train(ctx, testSymbol, domrepo.Freq1h); !errors.Is(err, errs.ErrLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
}

func TestTrainAcceptanceGate(t *testing.T) {
	ctx := context.Background()
	locks := cache.NewMemoryCache()
	cfg := testConfig(forecast.KindLinear)
	cfg.AcceptanceGate = true

	// |r| of a diffusive walk is never near zero, so a fitted mean beats the zero forecast.
	walk := seeded(t, 300)
	if _, err := NewTrainerUseCase(walk, locks, metrics.Noop{}, cfg).Train(ctx, testSymbol, domrepo.Freq1h); err != nil {
		t.Fatalf("gate should accept on a random walk: %v", err)
	}

	// Rare unpredictable jumps: zero is the median of |r| and wins on absolute error.
	jumps := repository.NewMemoryStore()
	rng := rand.New(rand.NewSource(11))
	closes := make([]float64, 300)
	p := 100.0
	for i := range closes {
		if rng.Float64() < 0.08 {
			if rng.Intn(2) == 0 {
				p *= 1.05
			} else {
				p /= 1.05
			}
		}
		closes[i] = p
	}
	_, _ = jumps.InsertCandles(ctx, hourly(base, closes...))
	if _, err := NewReturnsBuilderUseCase(jumps, metrics.Noop{}, cfg).BuildReturns(ctx, testSymbol, domrepo.Freq1h); err != nil {
		t.Fatalf("build returns: %v", err)
	}
	_, err := NewTrainerUseCase(jumps, locks, metrics.Noop{}, cfg).Train(ctx, testSymbol, domrepo.Freq1h)
	if !errors.Is(err, errs.ErrModelRejected) {
		t.Fatalf("expected model rejected, got %v", err)
	}
	if art, _ := jumps.LatestArtifact(ctx, testSymbol, domrepo.Freq1h, models.TargetAbsReturn); art != nil {
		t.Fatalf("rejected model must not be stored")
	}
}
