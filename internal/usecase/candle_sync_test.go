package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	"VolCast/internal/repository"
	"VolCast/internal/services/forecast"
	"VolCast/pkg/metrics"
)

type fakeSource struct {
	candles []models.Candle
	from    time.Time
}

func (f *fakeSource) ClosedCandles(_ context.Context, _, _ string, from, to time.Time) ([]models.Candle, error) {
	f.from = from
	var out []models.Candle
	for _, c := range f.candles {
		if !c.OpenTime.Before(from) && c.OpenTime.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestSyncCandlesResumesAfterStoredTail(t *testing.T) {
	ctx := context.Background()
	s := repository.NewMemoryStore()
	src := &fakeSource{candles: hourly(base, 100, 101, 102, 103, 104)}
	uc := NewCandleSyncUseCase(src, s, metrics.Noop{}, testConfig(forecast.KindLinear))
	uc.now = fixedClock(base.Add(5 * time.Hour))

	n, err := uc.SyncCandles(ctx, testSymbol, "")
	if err != nil || n != 5 {
		t.Fatalf("first sync n=%d err=%v", n, err)
	}

	src.candles = append(src.candles, hourly(base.Add(5*time.Hour), 105)...)
	uc.now = fixedClock(base.Add(6 * time.Hour))
	n, err = uc.SyncCandles(ctx, testSymbol, "1h")
	if err != nil || n != 1 {
		t.Fatalf("second sync n=%d err=%v", n, err)
	}
	if !src.from.Equal(base.Add(5 * time.Hour)) {
		t.Fatalf("sync should resume after the stored tail, asked from %v", src.from)
	}
}

func TestSyncCandlesRejectsBadPrice(t *testing.T) {
	s := repository.NewMemoryStore()
	src := &fakeSource{candles: hourly(base, 100, -1)}
	uc := NewCandleSyncUseCase(src, s, metrics.Noop{}, testConfig(forecast.KindLinear))
	uc.now = fixedClock(base.Add(3 * time.Hour))

	if _, err := uc.SyncCandles(context.Background(), testSymbol, "1h"); !errors.Is(err, errs.ErrData) {
		t.Fatalf("expected data error, got %v", err)
	}
}
