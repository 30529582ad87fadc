package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/services/analytics"
	applogger "VolCast/pkg/logger"
)

const (
	MetricAbsReturns  = "abs_returns"
	MetricPredictions = "predictions"
)

// RiskUseCase assembles the read-side risk summary. Nothing here is cached.
type RiskUseCase struct {
	store   domrepo.Store
	metrics domrepo.Metrics
	cfg     PipelineConfig
	now     func() time.Time
	l       *applogger.Logger
}

var _ service.RiskReader = (*RiskUseCase)(nil)

func NewRiskUseCase(store domrepo.Store, metrics domrepo.Metrics, cfg PipelineConfig) *RiskUseCase {
	return &RiskUseCase{store: store, metrics: metrics, cfg: cfg, now: time.Now}
}

// SetLogger injects a structured logger.
func (uc *RiskUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

func (uc *RiskUseCase) LatestMetrics(ctx context.Context, symbol string, freq domrepo.Frequency) (*models.LatestMetrics, error) {
	start := time.Now()
	snap, err := uc.snapshot(ctx, symbol, freq)
	uc.metrics.RecordLatency("latest_metrics", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		if uc.l != nil {
			uc.l.Error("latest metrics failed",
				applogger.String("symbol", symbol),
				applogger.String("freq", string(freq)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	m := analytics.Summarize(*snap)
	return &m, nil
}

// snapshot reads everything the summary needs in one read-only transaction so
// the close, forecast and returns describe the same moment.
func (uc *RiskUseCase) snapshot(ctx context.Context, symbol string, freq domrepo.Frequency) (*analytics.Snapshot, error) {
	snap := &analytics.Snapshot{Symbol: symbol, Freq: string(freq)}
	err := uc.store.InTx(domrepo.ReadSnapshot(ctx), func(tx domrepo.Store) error {
		latest, err := tx.LatestCandle(ctx, symbol, uc.cfg.BaseInterval)
		if err != nil {
			return err
		}
		snap.Latest = latest

		pred, err := tx.LatestPrediction(ctx, symbol, freq, models.TargetAbsReturn)
		if err != nil {
			return err
		}
		snap.Forecast = pred
		if pred != nil {
			snap.History, err = tx.PredictionsSince(ctx, symbol, freq, models.TargetAbsReturn, pred.PredictedFor.Add(-analytics.RegimeLookback))
			if err != nil {
				return err
			}
		}

		last, ok, err := tx.LatestReturnTime(ctx, symbol, freq)
		if err != nil {
			return err
		}
		if ok {
			snap.Returns, err = tx.ReturnsSince(ctx, symbol, freq, last.Add(-analytics.RVLongWindow))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Series returns (timestamp, value) pairs of metric from now-hours, ascending.
func (uc *RiskUseCase) Series(ctx context.Context, symbol string, freq domrepo.Frequency, metric string, hours int) ([]models.SeriesPoint, error) {
	if hours <= 0 {
		return nil, &errs.DataError{Field: "hours", Reason: "must be positive"}
	}
	since := uc.now().UTC().Add(-time.Duration(hours) * time.Hour)

	switch metric {
	case MetricAbsReturns:
		obs, err := uc.store.ReturnsSince(ctx, symbol, freq, since)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", metric, err)
		}
		out := make([]models.SeriesPoint, 0, len(obs))
		for _, o := range obs {
			if o.R == nil {
				continue
			}
			out = append(out, models.SeriesPoint{Time: o.Time, Value: math.Abs(*o.R)})
		}
		return out, nil

	case MetricPredictions:
		preds, err := uc.store.PredictionsSince(ctx, symbol, freq, models.TargetAbsReturn, since)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", metric, err)
		}
		out := make([]models.SeriesPoint, 0, len(preds))
		for _, p := range preds {
			out = append(out, models.SeriesPoint{Time: p.PredictedFor, Value: p.YHat})
		}
		return out, nil

	default:
		return nil, &errs.DataError{Field: "metric", Reason: fmt.Sprintf("unknown metric %q", metric)}
	}
}
