package usecase

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/repository"
	"VolCast/internal/services/forecast"
	"VolCast/pkg/metrics"
)

const testSymbol = "BTCUSDT"

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourly(start time.Time, closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = models.Candle{
			Symbol: testSymbol, Interval: "1h", OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromInt(1),
		}
	}
	return out
}

// randomWalk returns n closes following a seeded lognormal walk.
func randomWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		p *= math.Exp(rng.NormFloat64() * 0.01)
		out[i] = math.Round(p*1e4) / 1e4
	}
	return out
}

func testConfig(kind forecast.Kind) PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.Model = kind
	cfg.GARCHWindow = 100
	cfg.BackfillWindow = 10
	return cfg
}

// seeded returns a store holding n hourly candles and their 1h returns.
func seeded(t *testing.T, n int) *repository.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := repository.NewMemoryStore()
	if _, err := s.InsertCandles(ctx, hourly(base, randomWalk(n, 7)...)); err != nil {
		t.Fatalf("seed candles: %v", err)
	}
	rb := NewReturnsBuilderUseCase(s, metrics.Noop{}, testConfig(forecast.KindLinear))
	if _, err := rb.BuildReturns(ctx, testSymbol, domrepo.Freq1h); err != nil {
		t.Fatalf("seed returns: %v", err)
	}
	return s
}

type capturePublisher struct {
	mu    sync.Mutex
	preds []models.Prediction
}

func (p *capturePublisher) PublishPredictions(_ context.Context, preds []models.Prediction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preds = append(p.preds, preds...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// countingStore counts full-series reads.
type countingStore struct {
	*repository.MemoryStore
	mu    sync.Mutex
	reads int
}

func (c *countingStore) ReturnsSince(ctx context.Context, symbol string, freq domrepo.Frequency, from time.Time) ([]models.ReturnObservation, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.MemoryStore.ReturnsSince(ctx, symbol, freq, from)
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }
