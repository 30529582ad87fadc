package models

import (
	"time"

	"github.com/google/uuid"
)

// TargetAbsReturn is the only forecast target: next-period absolute log return.
const TargetAbsReturn = "abs_return"

// ModelArtifact is a persisted, versioned model blob. The most recent TrainedAt wins.
type ModelArtifact struct {
	ID        uuid.UUID
	Symbol    string
	Freq      string
	Target    string
	ModelType string
	TrainedAt time.Time
	Payload   []byte
}

// Prediction is a point forecast, insert-if-absent on (Symbol, Freq, Target, PredictedFor).
type Prediction struct {
	Symbol       string
	Freq         string
	Target       string
	PredictedFor time.Time
	YHat         float64
	CreatedAt    time.Time
}

// PriceRange is a symmetric band around the latest close.
type PriceRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// LatestMetrics is the read-side risk summary. Nil means unknown.
type LatestMetrics struct {
	Symbol          string      `json:"symbol"`
	Freq            string      `json:"freq"`
	LatestClose     *float64    `json:"latest_close"`
	LatestCloseTime *time.Time  `json:"latest_close_time"`
	PredictedFor    *time.Time  `json:"predicted_for"`
	YHat            *float64    `json:"yhat"`
	ExpectedMove    *float64    `json:"expected_move"`
	Range68         *PriceRange `json:"range_68"`
	Range95         *PriceRange `json:"range_95"`
	LastAbsMove     *float64    `json:"last_abs_move"`
	LastAbsReturn   *float64    `json:"last_abs_return"`
	RV24            *float64    `json:"rv24"`
	RV7d            *float64    `json:"rv7d"`
	VolRegime       *string     `json:"vol_regime"`
	VolPercentile   *float64    `json:"vol_percentile"`
}

// SeriesPoint is one (timestamp, value) pair of a served series.
type SeriesPoint struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// BacktestReport is the outcome of a walk-forward evaluation.
type BacktestReport struct {
	Symbol       string   `json:"symbol"`
	Freq         string   `json:"freq"`
	Model        string   `json:"model"`
	Rows         int      `json:"rows"`
	TestSteps    int      `json:"test_steps"`
	Refits       int      `json:"refits"`
	TestFraction float64  `json:"test_fraction"`
	RetrainEvery int      `json:"retrain_every"`
	BaselineMAE  *float64 `json:"baseline_mae"`
	ModelMAE     *float64 `json:"model_mae"`
	NoData       bool     `json:"no_data"`
}
