package models

// Requests for the forecasting HTTP endpoints.

type LatestRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Freq   string `query:"freq" json:"freq" default:"1h" validate:"oneof=1h 1d"`
}

type SeriesRequest struct {
	Metric string `param:"metric" validate:"required,oneof=abs_returns predictions"`
	Hours  int    `query:"hours" json:"hours" default:"48" validate:"gte=1,lte=8760"`
	Freq   string `query:"freq" json:"freq" default:"1h" validate:"oneof=1h 1d"`
}

type PredictRequest struct {
	Mode   string `json:"mode" default:"latest" validate:"oneof=latest backfill"`
	Window int    `json:"window" validate:"gte=0,lte=10000"`
	Freq   string `json:"freq" default:"1h" validate:"oneof=1h 1d"`
	Async  bool   `json:"async"`
}

type TrainRequest struct {
	Freq  string `json:"freq" default:"1h" validate:"oneof=1h 1d"`
	Async bool   `json:"async"`
}

type BacktestRequest struct {
	Freq         string  `json:"freq" default:"1h" validate:"oneof=1h 1d"`
	TestFraction float64 `json:"test_fraction" default:"0.7" validate:"gt=0,lt=1"`
	RetrainEvery int     `json:"retrain_every" default:"24" validate:"gte=1,lte=10000"`
	Async        bool    `json:"async"`
}

type BuildReturnsRequest struct {
	Freq string `json:"freq" default:"1h" validate:"oneof=1h 1d"`
}
