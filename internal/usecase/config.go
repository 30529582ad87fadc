package usecase

import (
	"time"

	"VolCast/internal/services/backtest"
	"VolCast/internal/services/features"
	"VolCast/internal/services/forecast"
)

// PipelineConfig carries the forecasting knobs shared by the use cases.
type PipelineConfig struct {
	Model          forecast.Kind
	Features       features.FeatureSpec
	RidgeAlpha     float64
	MinTrainRows   int
	GARCHWindow    int
	BackfillWindow int
	// BaseInterval is the candle interval returns are derived from.
	BaseInterval string

	AcceptanceGate bool
	Gate           backtest.Config
	// MinRefitRows is the smallest training slice a walk-forward refit accepts.
	// It sits below MinTrainRows so short histories still get an error estimate.
	MinRefitRows int

	LockTTL          time.Duration
	BacktestCacheTTL time.Duration
	// SyncLookback bounds the first candle sync when the store is empty.
	SyncLookback time.Duration
}

// DefaultPipelineConfig returns the defaults used when configuration leaves a field unset.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Model:            forecast.KindGARCH,
		Features:         features.DefaultFeatureSpec(),
		RidgeAlpha:       1.0,
		MinTrainRows:     30,
		MinRefitRows:     5,
		GARCHWindow:      500,
		BackfillWindow:   50,
		BaseInterval:     "1h",
		Gate:             backtest.Config{TestFraction: 0.7, RetrainEvery: 24},
		LockTTL:          10 * time.Minute,
		BacktestCacheTTL: time.Hour,
		SyncLookback:     90 * 24 * time.Hour,
	}
}

func (c PipelineConfig) forecastConfig() forecast.Config {
	return forecast.Config{
		Kind:       c.Model,
		Features:   c.Features,
		RidgeAlpha: c.RidgeAlpha,
		MinRows:    c.MinTrainRows,
	}
}

// refitConfig is forecastConfig with the walk-forward row floor.
func (c PipelineConfig) refitConfig() forecast.Config {
	fc := c.forecastConfig()
	fc.MinRows = c.MinRefitRows
	return fc
}
