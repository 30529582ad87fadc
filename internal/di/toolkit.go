package di

import (
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/usecase"
	"VolCast/pkg/cache"
	pkgch "VolCast/pkg/clickhouse"
	applogger "VolCast/pkg/logger"
	"VolCast/pkg/metrics"
)

// Toolkit bundles the pipeline stages for one-shot command line runs.
type Toolkit struct {
	Logger     *applogger.Logger
	Syncer     service.CandleSyncer
	Returns    *usecase.ReturnsBuilderUseCase
	Trainer    *usecase.TrainerUseCase
	Predictor  *usecase.PredictorUseCase
	Backtester *usecase.BacktesterUseCase
	Risk       *usecase.RiskUseCase

	closers []func() error
}

// Close releases every client opened for the toolkit.
func (t *Toolkit) Close() error {
	t.Logger.RemoveCollector()
	var first error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ProvideNoopMetrics keeps one-shot runs off the process-wide registry.
func ProvideNoopMetrics() domrepo.Metrics {
	return metrics.Noop{}
}

func ProvideToolkit(
	l *applogger.Logger,
	syncer service.CandleSyncer,
	returns *usecase.ReturnsBuilderUseCase,
	trainer *usecase.TrainerUseCase,
	predictor *usecase.PredictorUseCase,
	backtester *usecase.BacktesterUseCase,
	risk *usecase.RiskUseCase,
	store domrepo.Store,
	pub domrepo.PredictionPublisher,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *Toolkit {
	t := &Toolkit{
		Logger:     l,
		Syncer:     syncer,
		Returns:    returns,
		Trainer:    trainer,
		Predictor:  predictor,
		Backtester: backtester,
		Risk:       risk,
	}
	t.closers = append(t.closers, store.Close, pub.Close)
	if ch != nil {
		t.closers = append(t.closers, ch.Close)
	}
	if rc != nil {
		t.closers = append(t.closers, rc.Close)
	}
	return t
}
