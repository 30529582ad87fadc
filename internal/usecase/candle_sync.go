package usecase

import (
	"context"
	"fmt"
	"time"

	"VolCast/internal/domain/errs"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	applogger "VolCast/pkg/logger"
)

// CandleSyncUseCase pulls closed candles newer than the stored tail from the source.
type CandleSyncUseCase struct {
	source  domrepo.CandleSource
	store   domrepo.Store
	metrics domrepo.Metrics
	cfg     PipelineConfig
	now     func() time.Time
	l       *applogger.Logger
}

var _ service.CandleSyncer = (*CandleSyncUseCase)(nil)

func NewCandleSyncUseCase(source domrepo.CandleSource, store domrepo.Store, metrics domrepo.Metrics, cfg PipelineConfig) *CandleSyncUseCase {
	return &CandleSyncUseCase{source: source, store: store, metrics: metrics, cfg: cfg, now: time.Now}
}

// SetLogger injects a structured logger.
func (uc *CandleSyncUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

func (uc *CandleSyncUseCase) SyncCandles(ctx context.Context, symbol, interval string) (int, error) {
	start := time.Now()
	if interval == "" {
		interval = uc.cfg.BaseInterval
	}
	period, err := domrepo.ParseInterval(interval)
	if err != nil {
		return 0, &errs.DataError{Field: "interval", Reason: err.Error()}
	}

	n, err := uc.sync(ctx, symbol, interval, period)
	uc.metrics.RecordLatency("sync_candles", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		if uc.l != nil {
			uc.l.Error("candle sync failed",
				applogger.String("symbol", symbol),
				applogger.String("interval", interval),
				applogger.Error(err),
			)
		}
		return 0, fmt.Errorf("sync candles: %w", err)
	}
	uc.metrics.RecordRowsWritten("candles", n)
	if uc.l != nil {
		uc.l.Info("candles synced",
			applogger.String("symbol", symbol),
			applogger.String("interval", interval),
			applogger.Int("inserted", n),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return n, nil
}

func (uc *CandleSyncUseCase) sync(ctx context.Context, symbol, interval string, period time.Duration) (int, error) {
	now := uc.now().UTC()
	from := now.Add(-uc.cfg.SyncLookback).Truncate(period)
	last, err := uc.store.LatestCandle(ctx, symbol, interval)
	if err != nil {
		return 0, err
	}
	if last != nil {
		from = last.OpenTime.Add(period)
	}
	if !from.Before(now) {
		return 0, nil
	}
	candles, err := uc.source.ClosedCandles(ctx, symbol, interval, from, now)
	if err != nil {
		return 0, err
	}
	for _, c := range candles {
		if !c.Close.IsPositive() {
			return 0, &errs.DataError{Field: "close", At: c.OpenTime, Reason: "non-positive close from source"}
		}
	}
	return uc.store.InsertCandles(ctx, candles)
}
