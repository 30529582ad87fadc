package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/services/forecast"
	"VolCast/pkg/cache"
	applogger "VolCast/pkg/logger"
)

// TrainerUseCase fits the configured strategy on the full return series and
// stores the artifact.
type TrainerUseCase struct {
	store   domrepo.Store
	locks   cache.Service
	metrics domrepo.Metrics
	cfg     PipelineConfig
	now     func() time.Time
	l       *applogger.Logger
}

var _ service.Trainer = (*TrainerUseCase)(nil)

func NewTrainerUseCase(store domrepo.Store, locks cache.Service, metrics domrepo.Metrics, cfg PipelineConfig) *TrainerUseCase {
	return &TrainerUseCase{store: store, locks: locks, metrics: metrics, cfg: cfg, now: time.Now}
}

// SetLogger injects a structured logger.
func (uc *TrainerUseCase) SetLogger(l *applogger.Logger) { uc.l = l }

func (uc *TrainerUseCase) Train(ctx context.Context, symbol string, freq domrepo.Frequency) (*models.ModelArtifact, error) {
	start := time.Now()
	art, err := uc.train(ctx, symbol, freq)
	uc.metrics.RecordLatency("train", time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(errs.Kind(err))
		if uc.l != nil {
			uc.l.Error("train failed",
				applogger.String("symbol", symbol),
				applogger.String("freq", string(freq)),
				applogger.String("model", string(uc.cfg.Model)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("train: %w", err)
	}
	uc.metrics.RecordRowsWritten("model_artifacts", 1)
	if uc.l != nil {
		uc.l.Info("model trained",
			applogger.String("symbol", symbol),
			applogger.String("freq", string(freq)),
			applogger.String("model", art.ModelType),
			applogger.String("artifact_id", art.ID.String()),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return art, nil
}

func (uc *TrainerUseCase) train(ctx context.Context, symbol string, freq domrepo.Frequency) (*models.ModelArtifact, error) {
	key := cache.Key("lock:train", symbol, freq)
	ok, err := uc.locks.TryLock(ctx, key, uc.cfg.LockTTL)
	if err != nil {
		return nil, errs.Upstream("acquire train lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", symbol, freq, errs.ErrLocked)
	}
	defer func() {
		// the lock expires on its own if this fails
		_ = uc.locks.Unlock(context.WithoutCancel(ctx), key)
	}()

	obs, err := uc.store.ReturnsSince(ctx, symbol, freq, time.Time{})
	if err != nil {
		return nil, err
	}
	cfg := uc.cfg.forecastConfig()
	ds, err := cfg.Features.BuildDataset(obs)
	if err != nil {
		return nil, err
	}

	if uc.cfg.AcceptanceGate {
		res, err := walkForward(uc.cfg.refitConfig(), ds.Rows, uc.cfg.Gate, uc.cfg.GARCHWindow)
		if err != nil {
			return nil, fmt.Errorf("acceptance backtest: %w", err)
		}
		if !res.NoData && res.ModelMAE >= res.BaselineMAE {
			return nil, fmt.Errorf("model mae %.6g >= baseline mae %.6g: %w", res.ModelMAE, res.BaselineMAE, errs.ErrModelRejected)
		}
	}

	sample := forecast.SampleFromRows(ds.Columns, ds.Rows)
	if cfg.Kind == forecast.KindGARCH {
		sample.Returns = rawReturns(obs)
	}
	m, err := forecast.Fit(cfg, sample)
	if err != nil {
		return nil, err
	}
	payload, err := m.Marshal()
	if err != nil {
		return nil, err
	}

	art := &models.ModelArtifact{
		ID:        uuid.New(),
		Symbol:    symbol,
		Freq:      string(freq),
		Target:    models.TargetAbsReturn,
		ModelType: string(m.Kind),
		TrainedAt: uc.now().UTC(),
		Payload:   payload,
	}
	if err := uc.store.SaveArtifact(ctx, art); err != nil {
		return nil, err
	}
	return art, nil
}

func rawReturns(obs []models.ReturnObservation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		if o.R != nil {
			out = append(out, *o.R)
		}
	}
	return out
}
