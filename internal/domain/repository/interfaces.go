package repository

import (
	"context"
	"time"

	"VolCast/internal/domain/models"
)

// Store is the relational store of candles, returns, artifacts and predictions.
// Every write is insert-if-absent; nothing is updated or deleted.
type Store interface {
	// InTx runs fn in one transaction. fn receives a Store bound to it.
	InTx(ctx context.Context, fn func(tx Store) error) error

	InsertCandles(ctx context.Context, candles []models.Candle) (int, error)
	CandlesSince(ctx context.Context, symbol, interval string, from time.Time) ([]models.Candle, error)
	LatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error)

	InsertReturns(ctx context.Context, freq Frequency, obs []models.ReturnObservation) (int, error)
	ReturnsSince(ctx context.Context, symbol string, freq Frequency, from time.Time) ([]models.ReturnObservation, error)
	TailReturns(ctx context.Context, symbol string, freq Frequency, n int) ([]models.ReturnObservation, error)
	LatestReturnTime(ctx context.Context, symbol string, freq Frequency) (time.Time, bool, error)

	SaveArtifact(ctx context.Context, a *models.ModelArtifact) error
	LatestArtifact(ctx context.Context, symbol string, freq Frequency, target string) (*models.ModelArtifact, error)

	// InsertPredictions returns the subset that was actually inserted.
	InsertPredictions(ctx context.Context, preds []models.Prediction) ([]models.Prediction, error)
	PredictionsSince(ctx context.Context, symbol string, freq Frequency, target string, from time.Time) ([]models.Prediction, error)
	LatestPrediction(ctx context.Context, symbol string, freq Frequency, target string) (*models.Prediction, error)

	Health(ctx context.Context) error
	Close() error
}

// CandleSource provides closed candles for a time range, ascending by open time.
type CandleSource interface {
	ClosedCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error)
}

// PredictionPublisher announces newly inserted predictions downstream.
type PredictionPublisher interface {
	PublishPredictions(ctx context.Context, preds []models.Prediction) error
	Close() error
}

type Metrics interface {
	RecordRowsWritten(table string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordForecast(symbol, freq string, yhat float64)
	RecordBacktest(model string, baselineMAE, modelMAE float64)
}
