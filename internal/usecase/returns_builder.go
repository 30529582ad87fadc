package usecase

import (
	"context"
	"fmt"
	"time"

	"VolCast/internal/domain/errs"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/services/features"
	applogger "VolCast/pkg/logger"
)

// ReturnsBuilderUseCase derives per-frequency log returns from stored candles.
type ReturnsBuilderUseCase struct {
	store   domrepo.Store
	metrics domrepo.Metrics
	cfg     PipelineConfig
	l       *applogger.Logger
}

var _ service.ReturnsBuilder = (*ReturnsBuilderUseCase)(nil)

func NewReturnsBuilderUseCase(store domrepo.Store, metrics domrepo.Metrics, cfg PipelineConfig) *ReturnsBuilderUseCase {
	return &ReturnsBuilderUseCase{store: store, metrics: metrics, cfg: cfg}
}

// SetLogger injects a structured logger.
func (uc *ReturnsBuilderUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

// BuildReturns extends the freq series with any candles newer than its last row.
// The last stored row is reloaded so the first new row has a predecessor; its own
// re-insert conflicts and is skipped.
func (uc *ReturnsBuilderUseCase) BuildReturns(ctx context.Context, symbol string, freq domrepo.Frequency) (int, error) {
	start := time.Now()
	if !domrepo.IsValidFrequency(freq) {
		return 0, &errs.DataError{Field: "freq", Reason: fmt.Sprintf("unsupported frequency %q", freq)}
	}
	base, err := domrepo.ParseInterval(uc.cfg.BaseInterval)
	if err != nil {
		return 0, &errs.DataError{Field: "base_interval", Reason: err.Error()}
	}
	if freq == domrepo.Freq1h && base != time.Hour {
		return 0, &errs.DataError{Field: "base_interval", Reason: "hourly returns require 1h candles"}
	}

	var inserted int
	err = uc.store.InTx(ctx, func(tx domrepo.Store) error {
		latest, ok, err := tx.LatestReturnTime(ctx, symbol, freq)
		if err != nil {
			return err
		}
		var from time.Time
		if ok {
			from = latest
		}
		candles, err := tx.CandlesSince(ctx, symbol, uc.cfg.BaseInterval, from)
		if err != nil {
			return err
		}
		if err := features.CheckCloses(candles); err != nil {
			return err
		}
		if freq == domrepo.Freq1d {
			candles = features.DailyCloses(candles, base)
		}
		obs, err := features.BuildReturns(candles)
		if err != nil {
			return err
		}
		inserted, err = tx.InsertReturns(ctx, freq, obs)
		return err
	})
	uc.metrics.RecordLatency("build_returns", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		if uc.l != nil {
			uc.l.Error("build returns failed",
				applogger.String("symbol", symbol),
				applogger.String("freq", string(freq)),
				applogger.Error(err),
			)
		}
		return 0, fmt.Errorf("build returns: %w", err)
	}
	uc.metrics.RecordRowsWritten(freq.ReturnsTable(), inserted)
	if uc.l != nil {
		uc.l.Info("returns built",
			applogger.String("symbol", symbol),
			applogger.String("freq", string(freq)),
			applogger.Int("inserted", inserted),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return inserted, nil
}
