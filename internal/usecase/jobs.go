package usecase

import (
	"context"
	"fmt"

	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/services/backtest"
	"VolCast/pkg/queue"
)

// Queue message types for out-of-band work.
const (
	JobTypeTrain    = "forecast.train"
	JobTypeBacktest = "forecast.backtest"
	JobTypeBackfill = "forecast.backfill"
)

// JobPayload is shared by all forecast jobs; unused fields are ignored.
type JobPayload struct {
	Symbol       string  `json:"symbol"`
	Freq         string  `json:"freq"`
	Window       int     `json:"window,omitempty"`
	TestFraction float64 `json:"test_fraction,omitempty"`
	RetrainEvery int     `json:"retrain_every,omitempty"`
}

func parseJobPayload(payload interface{}) (*JobPayload, domrepo.Frequency, error) {
	p, err := queue.ParsePayload[JobPayload](payload)
	if err != nil {
		return nil, "", err
	}
	if p.Symbol == "" {
		return nil, "", fmt.Errorf("job payload: symbol required")
	}
	freq := domrepo.Frequency(p.Freq)
	if !domrepo.IsValidFrequency(freq) {
		return nil, "", fmt.Errorf("job payload: unsupported frequency %q", p.Freq)
	}
	return p, freq, nil
}

type TrainJob struct{ trainer service.Trainer }

func NewTrainJob(t service.Trainer) *TrainJob { return &TrainJob{trainer: t} }

func (j *TrainJob) Name() string { return "train" }
func (j *TrainJob) Type() string { return JobTypeTrain }

func (j *TrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, freq, err := parseJobPayload(payload)
	if err != nil {
		return err
	}
	_, err = j.trainer.Train(ctx, p.Symbol, freq)
	return err
}

type BacktestJob struct {
	backtester service.Backtester
	defaults   backtest.Config
}

func NewBacktestJob(b service.Backtester, defaults backtest.Config) *BacktestJob {
	return &BacktestJob{backtester: b, defaults: defaults}
}

func (j *BacktestJob) Name() string { return "backtest" }
func (j *BacktestJob) Type() string { return JobTypeBacktest }

func (j *BacktestJob) Handle(ctx context.Context, payload interface{}) error {
	p, freq, err := parseJobPayload(payload)
	if err != nil {
		return err
	}
	if p.TestFraction == 0 {
		p.TestFraction = j.defaults.TestFraction
	}
	if p.RetrainEvery == 0 {
		p.RetrainEvery = j.defaults.RetrainEvery
	}
	_, err = j.backtester.Backtest(ctx, p.Symbol, freq, p.TestFraction, p.RetrainEvery)
	return err
}

type BackfillJob struct{ predictor service.Predictor }

func NewBackfillJob(p service.Predictor) *BackfillJob { return &BackfillJob{predictor: p} }

func (j *BackfillJob) Name() string { return "backfill" }
func (j *BackfillJob) Type() string { return JobTypeBackfill }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	p, freq, err := parseJobPayload(payload)
	if err != nil {
		return err
	}
	_, err = j.predictor.Backfill(ctx, p.Symbol, freq, p.Window)
	return err
}

var (
	_ queue.Job = (*TrainJob)(nil)
	_ queue.Job = (*BacktestJob)(nil)
	_ queue.Job = (*BackfillJob)(nil)
)
