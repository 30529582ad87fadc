package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"VolCast/internal/domain/errs"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/usecase"
	applogger "VolCast/pkg/logger"
	"VolCast/pkg/queue"
)

// Config names the series the scheduler maintains and when.
type Config struct {
	Symbol       string
	BaseInterval string
	Freqs        []domrepo.Frequency
	PipelineCron string
	TrainCron    string
	Timeout      time.Duration
}

// Scheduler runs the periodic sync → returns → predict pipeline and retraining.
type Scheduler struct {
	cron      *cron.Cron
	cfg       Config
	syncer    service.CandleSyncer
	returns   service.ReturnsBuilder
	trainer   service.Trainer
	predictor service.Predictor
	jobs      queue.QueueService
	baseCtx   context.Context
	l         *applogger.Logger
}

// New creates a scheduler. syncer and jobs may be nil; without a queue, training
// runs inline on the cron goroutine.
func New(ctx context.Context, cfg Config, syncer service.CandleSyncer, returns service.ReturnsBuilder,
	trainer service.Trainer, predictor service.Predictor, jobs queue.QueueService) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:       cfg,
		syncer:    syncer,
		returns:   returns,
		trainer:   trainer,
		predictor: predictor,
		jobs:      jobs,
		baseCtx:   ctx,
	}
}

// SetLogger injects a structured logger.
func (s *Scheduler) SetLogger(l *applogger.Logger) { s.l = l }

// Register adds the pipeline and training tasks. Empty specs are skipped.
func (s *Scheduler) Register() error {
	if s.cfg.PipelineCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.PipelineCron, s.runPipeline); err != nil {
			return fmt.Errorf("register pipeline task: %w", err)
		}
	}
	if s.cfg.TrainCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.TrainCron, s.runTrain); err != nil {
			return fmt.Errorf("register train task: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	if s.l != nil {
		s.l.Info("scheduler started",
			applogger.String("pipeline_cron", s.cfg.PipelineCron),
			applogger.String("train_cron", s.cfg.TrainCron),
			applogger.Strings("freqs", s.freqNames()),
		)
	}
}

// Stop waits for running tasks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.l != nil {
		s.l.Info("scheduler stopped")
	}
}

func (s *Scheduler) runPipeline() {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.Timeout)
	defer cancel()
	_ = s.RunPipeline(ctx)
}

// RunPipeline syncs candles, extends every return series and forecasts the next
// period. A failed sync still lets stored candles flow through; a failed build
// skips that frequency's prediction.
func (s *Scheduler) RunPipeline(ctx context.Context) error {
	var firstErr error
	note := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if s.syncer != nil {
		if _, err := s.syncer.SyncCandles(ctx, s.cfg.Symbol, s.cfg.BaseInterval); err != nil {
			note(err)
			s.warn("pipeline sync failed", "", err)
		}
	}
	for _, freq := range s.cfg.Freqs {
		if _, err := s.returns.BuildReturns(ctx, s.cfg.Symbol, freq); err != nil {
			note(err)
			s.warn("pipeline build returns failed", freq, err)
			continue
		}
		if _, err := s.predictor.PredictLatest(ctx, s.cfg.Symbol, freq); err != nil {
			// nothing to predict with until the first training run
			if !errors.Is(err, errs.ErrStaleArtifact) {
				note(err)
			}
			s.warn("pipeline predict failed", freq, err)
		}
	}
	return firstErr
}

func (s *Scheduler) runTrain() {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.Timeout)
	defer cancel()
	_ = s.RunTrain(ctx)
}

// RunTrain enqueues a training job per frequency, or trains inline without a queue.
func (s *Scheduler) RunTrain(ctx context.Context) error {
	var firstErr error
	for _, freq := range s.cfg.Freqs {
		var err error
		if s.jobs != nil {
			err = s.jobs.PublishMessage(ctx, usecase.JobTypeTrain, usecase.JobPayload{Symbol: s.cfg.Symbol, Freq: string(freq)})
		} else {
			_, err = s.trainer.Train(ctx, s.cfg.Symbol, freq)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.warn("scheduled training failed", freq, err)
		}
	}
	return firstErr
}

func (s *Scheduler) warn(msg string, freq domrepo.Frequency, err error) {
	if s.l == nil {
		return
	}
	s.l.Warn(msg,
		applogger.String("symbol", s.cfg.Symbol),
		applogger.String("freq", string(freq)),
		applogger.String("kind", errs.Kind(err)),
		applogger.Error(err),
	)
}

func (s *Scheduler) freqNames() []string {
	out := make([]string, len(s.cfg.Freqs))
	for i, f := range s.cfg.Freqs {
		out[i] = string(f)
	}
	return out
}
