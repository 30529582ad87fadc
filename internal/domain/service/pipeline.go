package service

import (
	"context"

	"VolCast/internal/domain/models"
	"VolCast/internal/domain/repository"
)

// ReturnsBuilder derives log-return series from stored candles.
type ReturnsBuilder interface {
	BuildReturns(ctx context.Context, symbol string, freq repository.Frequency) (int, error)
}

// CandleSyncer copies closed candles from the upstream source into the store.
type CandleSyncer interface {
	SyncCandles(ctx context.Context, symbol, interval string) (int, error)
}

// Trainer fits and persists a model artifact.
type Trainer interface {
	Train(ctx context.Context, symbol string, freq repository.Frequency) (*models.ModelArtifact, error)
}

// Predictor writes forecasts using the latest artifact. Both modes return the
// number of rows actually inserted.
type Predictor interface {
	PredictLatest(ctx context.Context, symbol string, freq repository.Frequency) (int, error)
	Backfill(ctx context.Context, symbol string, freq repository.Frequency, window int) (int, error)
}

// Backtester runs a walk-forward evaluation.
type Backtester interface {
	Backtest(ctx context.Context, symbol string, freq repository.Frequency, testFraction float64, retrainEvery int) (*models.BacktestReport, error)
}

// RiskReader serves the read-side risk summary and time series.
type RiskReader interface {
	LatestMetrics(ctx context.Context, symbol string, freq repository.Frequency) (*models.LatestMetrics, error)
	Series(ctx context.Context, symbol string, freq repository.Frequency, metric string, hours int) ([]models.SeriesPoint, error)
}
