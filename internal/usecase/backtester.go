package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/services/backtest"
	"VolCast/pkg/cache"
	applogger "VolCast/pkg/logger"
)

// BacktesterUseCase runs walk-forward evaluations of the configured strategy.
type BacktesterUseCase struct {
	store   domrepo.Store
	cache   cache.Service
	metrics domrepo.Metrics
	cfg     PipelineConfig
	l       *applogger.Logger
}

var _ service.Backtester = (*BacktesterUseCase)(nil)

func NewBacktesterUseCase(store domrepo.Store, c cache.Service, metrics domrepo.Metrics, cfg PipelineConfig) *BacktesterUseCase {
	return &BacktesterUseCase{store: store, cache: c, metrics: metrics, cfg: cfg}
}

// SetLogger injects a structured logger.
func (uc *BacktesterUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

// Backtest evaluates the strategy against the zero baseline. Reports are cached
// per parameters and latest return time, so new data always recomputes.
func (uc *BacktesterUseCase) Backtest(ctx context.Context, symbol string, freq domrepo.Frequency, testFraction float64, retrainEvery int) (*models.BacktestReport, error) {
	start := time.Now()
	bt := backtest.Config{TestFraction: testFraction, RetrainEvery: retrainEvery}
	if err := bt.Validate(); err != nil {
		return nil, &errs.DataError{Field: "backtest", Reason: err.Error()}
	}

	latest, _, err := uc.store.LatestReturnTime(ctx, symbol, freq)
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		return nil, fmt.Errorf("backtest: %w", err)
	}
	key := cache.Key("backtest", symbol, freq, uc.cfg.Model, testFraction, retrainEvery, latest.Unix())
	if rep, ok := uc.cached(ctx, key); ok {
		return rep, nil
	}

	rep, err := uc.run(ctx, symbol, freq, bt)
	uc.metrics.RecordLatency("backtest", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		if uc.l != nil {
			uc.l.Error("backtest failed",
				applogger.String("symbol", symbol),
				applogger.String("freq", string(freq)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if rep.ModelMAE != nil && rep.BaselineMAE != nil {
		uc.metrics.RecordBacktest(rep.Model, *rep.BaselineMAE, *rep.ModelMAE)
	}
	uc.remember(ctx, key, rep)
	if uc.l != nil {
		uc.l.Info("backtest done",
			applogger.String("symbol", symbol),
			applogger.String("freq", string(freq)),
			applogger.Float64("test_fraction", testFraction),
			applogger.Int("rows", rep.Rows),
			applogger.Int("refits", rep.Refits),
			applogger.Bool("no_data", rep.NoData),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return rep, nil
}

func (uc *BacktesterUseCase) run(ctx context.Context, symbol string, freq domrepo.Frequency, bt backtest.Config) (*models.BacktestReport, error) {
	obs, err := uc.store.ReturnsSince(ctx, symbol, freq, time.Time{})
	if err != nil {
		return nil, err
	}
	cfg := uc.cfg.refitConfig()
	ds, err := cfg.Features.BuildDataset(obs)
	if err != nil {
		return nil, err
	}
	res, err := walkForward(cfg, ds.Rows, bt, uc.cfg.GARCHWindow)
	if err != nil {
		return nil, err
	}

	rep := &models.BacktestReport{
		Symbol:       symbol,
		Freq:         string(freq),
		Model:        string(cfg.Kind),
		Rows:         res.Rows,
		TestSteps:    res.Steps,
		Refits:       len(res.RefitAt),
		TestFraction: bt.TestFraction,
		RetrainEvery: bt.RetrainEvery,
		NoData:       res.NoData,
	}
	if !res.NoData {
		baseline, model := res.BaselineMAE, res.ModelMAE
		rep.BaselineMAE = &baseline
		rep.ModelMAE = &model
	}
	return rep, nil
}

func (uc *BacktesterUseCase) cached(ctx context.Context, key string) (*models.BacktestReport, bool) {
	if uc.cache == nil {
		return nil, false
	}
	var raw string
	if err := uc.cache.Get(ctx, key, &raw); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && uc.l != nil {
			uc.l.Warn("backtest cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	var rep models.BacktestReport
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return nil, false
	}
	return &rep, true
}

func (uc *BacktesterUseCase) remember(ctx context.Context, key string, rep *models.BacktestReport) {
	if uc.cache == nil {
		return
	}
	b, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := uc.cache.Set(ctx, key, string(b), uc.cfg.BacktestCacheTTL); err != nil && uc.l != nil {
		uc.l.Warn("backtest cache write failed", applogger.String("key", key), applogger.Error(err))
	}
}
