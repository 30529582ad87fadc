package usecase

import (
	"context"
	"fmt"
	"time"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/services/features"
	"VolCast/internal/services/forecast"
	applogger "VolCast/pkg/logger"
)

// PredictorUseCase replays the latest artifact over the return series and stores
// forecasts insert-if-absent.
type PredictorUseCase struct {
	store     domrepo.Store
	publisher domrepo.PredictionPublisher
	metrics   domrepo.Metrics
	cfg       PipelineConfig
	now       func() time.Time
	l         *applogger.Logger
}

var _ service.Predictor = (*PredictorUseCase)(nil)

func NewPredictorUseCase(store domrepo.Store, publisher domrepo.PredictionPublisher, metrics domrepo.Metrics, cfg PipelineConfig) *PredictorUseCase {
	return &PredictorUseCase{store: store, publisher: publisher, metrics: metrics, cfg: cfg, now: time.Now}
}

// SetLogger injects a structured logger.
func (uc *PredictorUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

// PredictLatest forecasts the period after the last return.
func (uc *PredictorUseCase) PredictLatest(ctx context.Context, symbol string, freq domrepo.Frequency) (int, error) {
	return uc.run(ctx, "predict_latest", symbol, freq, 1)
}

// Backfill forecasts the period after each of the trailing window returns.
// A non-positive window uses the configured default.
func (uc *PredictorUseCase) Backfill(ctx context.Context, symbol string, freq domrepo.Frequency, window int) (int, error) {
	if window <= 0 {
		window = uc.cfg.BackfillWindow
	}
	return uc.run(ctx, "predict_backfill", symbol, freq, window)
}

func (uc *PredictorUseCase) run(ctx context.Context, op, symbol string, freq domrepo.Frequency, window int) (int, error) {
	start := time.Now()
	var inserted []models.Prediction
	err := uc.store.InTx(ctx, func(tx domrepo.Store) error {
		preds, err := uc.forecast(ctx, tx, symbol, freq, window)
		if err != nil {
			return err
		}
		inserted, err = tx.InsertPredictions(ctx, preds)
		return err
	})
	uc.metrics.RecordLatency(op, time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		if uc.l != nil {
			uc.l.Error(op+" failed",
				applogger.String("symbol", symbol),
				applogger.String("freq", string(freq)),
				applogger.Int("window", window),
				applogger.Error(err),
			)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	uc.metrics.RecordRowsWritten("predictions", len(inserted))
	if n := len(inserted); n > 0 {
		uc.metrics.RecordForecast(symbol, string(freq), inserted[n-1].YHat)
		if err := uc.publisher.PublishPredictions(ctx, inserted); err != nil {
			uc.metrics.RecordError("publish")
			if uc.l != nil {
				uc.l.Warn("publish predictions failed",
					applogger.String("symbol", symbol),
					applogger.Int("count", n),
					applogger.Error(err),
				)
			}
		}
	}
	if uc.l != nil {
		uc.l.Info(op+" done",
			applogger.String("symbol", symbol),
			applogger.String("freq", string(freq)),
			applogger.Int("window", window),
			applogger.Int("inserted", len(inserted)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return len(inserted), nil
}

// forecast computes one prediction per anchor among the last window returns.
func (uc *PredictorUseCase) forecast(ctx context.Context, tx domrepo.Store, symbol string, freq domrepo.Frequency, window int) ([]models.Prediction, error) {
	art, err := tx.LatestArtifact(ctx, symbol, freq, models.TargetAbsReturn)
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, &errs.StaleArtifactError{Symbol: symbol, Freq: string(freq), Target: models.TargetAbsReturn}
	}
	m, err := forecast.Unmarshal(art.Payload)
	if err != nil {
		return nil, err
	}

	var history int
	if m.NeedsFeatures() {
		// one extra row covers a leading null return
		history = m.Features.History() + 1
	} else {
		history = uc.cfg.GARCHWindow
	}
	obs, err := tx.TailReturns(ctx, symbol, freq, history+window-1)
	if err != nil {
		return nil, err
	}

	var anchors []anchorInput
	if m.NeedsFeatures() {
		anchors, err = linearAnchors(m, obs, window)
	} else {
		anchors = garchAnchors(obs, window, uc.cfg.GARCHWindow)
	}
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, &errs.InsufficientDataError{What: "prediction history", Have: len(obs), Need: history}
	}

	period := freq.Period()
	created := uc.now().UTC()
	preds := make([]models.Prediction, 0, len(anchors))
	for _, a := range anchors {
		yhat, err := m.Predict(a.in)
		if err != nil {
			return nil, fmt.Errorf("predict at %s: %w", a.time.Format(time.RFC3339), err)
		}
		preds = append(preds, models.Prediction{
			Symbol:       symbol,
			Freq:         string(freq),
			Target:       models.TargetAbsReturn,
			PredictedFor: a.time.Add(period),
			YHat:         yhat,
			CreatedAt:    created,
		})
	}
	return preds, nil
}

// anchorInput is a forecast origin: everything known at time.
type anchorInput struct {
	time time.Time
	in   forecast.Input
}

func linearAnchors(m *forecast.Model, obs []models.ReturnObservation, window int) ([]anchorInput, error) {
	spec := *m.Features
	rows, err := spec.BuildFeatures(obs)
	if err != nil {
		return nil, err
	}
	rows = lastRows(rows, window)
	out := make([]anchorInput, 0, len(rows))
	for _, r := range rows {
		x, err := spec.Reorder(r.X, m.Linear.Columns)
		if err != nil {
			return nil, err
		}
		out = append(out, anchorInput{time: r.Time, in: forecast.Input{X: x}})
	}
	return out, nil
}

func garchAnchors(obs []models.ReturnObservation, window, garchWindow int) []anchorInput {
	var (
		times []time.Time
		rs    []float64
	)
	for _, o := range obs {
		if o.R == nil {
			continue
		}
		times = append(times, o.Time)
		rs = append(rs, *o.R)
	}
	first := len(rs) - window
	if first < 0 {
		first = 0
	}
	out := make([]anchorInput, 0, len(rs)-first)
	for i := first; i < len(rs); i++ {
		lo := 0
		if garchWindow > 0 && i+1 > garchWindow {
			lo = i + 1 - garchWindow
		}
		out = append(out, anchorInput{time: times[i], in: forecast.Input{Returns: rs[lo : i+1]}})
	}
	return out
}

func lastRows(rows []features.Row, n int) []features.Row {
	if len(rows) > n {
		return rows[len(rows)-n:]
	}
	return rows
}
