package di

import (
	"context"
	"fmt"
	"time"

	"VolCast/internal/domain/errs"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/internal/domain/service"
	"VolCast/internal/handler/api"
	internalrepo "VolCast/internal/repository"
	"VolCast/internal/scheduler"
	"VolCast/internal/services/backtest"
	"VolCast/internal/services/features"
	"VolCast/internal/services/forecast"
	"VolCast/internal/usecase"
	"VolCast/pkg/cache"
	pkgch "VolCast/pkg/clickhouse"
	"VolCast/pkg/config"
	pkgkafka "VolCast/pkg/kafka"
	applogger "VolCast/pkg/logger"
	"VolCast/pkg/metrics"
	pkgpg "VolCast/pkg/postgres"
	"VolCast/pkg/queue"
	"VolCast/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer. Without brokers it returns nil
// and predictions are not published.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger and attaches the Kafka log
// collector when a topic is configured.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.CollectorTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.CollectorInterval,
			CountThreshold: cfg.Logging.CollectorThreshold,
			Topic:          cfg.Logging.CollectorTopic,
			Publisher:      internalrepo.NewKafkaLogPublisher(producer, "volcast"),
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvidePipelineConfig maps the forecast, backtest and cache sections onto the use case knobs.
func ProvidePipelineConfig(cfg *config.Config) (usecase.PipelineConfig, error) {
	kind, err := forecast.ParseKind(cfg.Forecast.Model)
	if err != nil {
		return usecase.PipelineConfig{}, err
	}
	pc := usecase.DefaultPipelineConfig()
	pc.Model = kind
	pc.Features = features.FeatureSpec{
		MaxLag:     cfg.Forecast.MaxLag,
		MeanWindow: cfg.Forecast.MeanWindow,
		StdWindow:  cfg.Forecast.StdWindow,
	}
	pc.RidgeAlpha = cfg.Forecast.RidgeAlpha
	pc.MinTrainRows = cfg.Forecast.MinTrainRows
	pc.GARCHWindow = cfg.Forecast.GARCHWindow
	pc.BackfillWindow = cfg.Forecast.BackfillWindow
	pc.BaseInterval = cfg.Forecast.BaseInterval
	pc.AcceptanceGate = cfg.Forecast.AcceptanceGate
	pc.Gate = backtest.Config{TestFraction: cfg.Backtest.TestFraction, RetrainEvery: cfg.Backtest.RetrainEvery}
	pc.LockTTL = cfg.Forecast.LockTTL
	pc.BacktestCacheTTL = cfg.Backtest.CacheTTL
	pc.MinRefitRows = cfg.Backtest.MinRefitRows
	pc.SyncLookback = cfg.Forecast.SyncLookback
	return pc, nil
}

// ProvideStore opens the relational store selected by store.driver.
func ProvideStore(cfg *config.Config, l *applogger.Logger) (domrepo.Store, error) {
	if cfg.Store.Driver == "memory" {
		l.Warn("using in-memory store; data is lost on restart")
		return internalrepo.NewMemoryStore(), nil
	}

	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.Postgres.DSN),
		pkgpg.WithHost(cfg.Postgres.Host, cfg.Postgres.Port),
		pkgpg.WithDatabase(cfg.Postgres.Database),
		pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		pkgpg.WithConnLifetimes(cfg.Postgres.ConnMaxLifetime, cfg.Postgres.ConnMaxIdleTime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgpg.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	store := internalrepo.NewPGStore(client)
	store.SetLogger(l)
	return store, nil
}

// ProvideClickHouseClient connects to the upstream candle warehouse. Without a host
// it returns nil and candle sync is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.CandleSchema(cfg.ClickHouse.Database, cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideCandleSyncer returns nil when no candle source is configured.
func ProvideCandleSyncer(ch *pkgch.Client, store domrepo.Store, m domrepo.Metrics, pc usecase.PipelineConfig, cfg *config.Config, l *applogger.Logger) service.CandleSyncer {
	if ch == nil {
		return nil
	}
	source := internalrepo.NewCHCandleSource(ch, cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table)
	source.SetLogger(l)
	uc := usecase.NewCandleSyncUseCase(source, store, m, pc)
	uc.SetLogger(l)
	return uc
}

// ProvideRedisCache connects to Redis. Without a host it returns nil.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if cfg.Redis.Host == "" {
		return nil, nil
	}
	opts := []cache.RedisOption{
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	}
	if cfg.Redis.Port != 0 {
		opts = append(opts, cache.WithRedisPort(cfg.Redis.Port))
	}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, cache.WithRedisPrefix(cfg.Redis.Prefix))
	}
	rc, err := cache.NewRedisCache(opts...)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache layers memory over Redis when available; locks then hold across replicas.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache()
	}
	return cache.NewLayeredCache(rc, cfg.Redis.LocalTTL)
}

// ProvidePredictionPublisher publishes inserted predictions to Kafka when a producer exists.
func ProvidePredictionPublisher(producer *pkgkafka.Producer, cfg *config.Config) domrepo.PredictionPublisher {
	if producer == nil {
		return internalrepo.NoopPredictionPublisher{}
	}
	return internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.PredictionsTopic)
}

func ProvideReturnsBuilder(store domrepo.Store, m domrepo.Metrics, pc usecase.PipelineConfig, l *applogger.Logger) *usecase.ReturnsBuilderUseCase {
	uc := usecase.NewReturnsBuilderUseCase(store, m, pc)
	uc.SetLogger(l)
	return uc
}

func ProvideTrainer(store domrepo.Store, c cache.Service, m domrepo.Metrics, pc usecase.PipelineConfig, l *applogger.Logger) *usecase.TrainerUseCase {
	uc := usecase.NewTrainerUseCase(store, c, m, pc)
	uc.SetLogger(l)
	return uc
}

func ProvidePredictor(store domrepo.Store, pub domrepo.PredictionPublisher, m domrepo.Metrics, pc usecase.PipelineConfig, l *applogger.Logger) *usecase.PredictorUseCase {
	uc := usecase.NewPredictorUseCase(store, pub, m, pc)
	uc.SetLogger(l)
	return uc
}

func ProvideBacktester(store domrepo.Store, c cache.Service, m domrepo.Metrics, pc usecase.PipelineConfig, l *applogger.Logger) *usecase.BacktesterUseCase {
	uc := usecase.NewBacktesterUseCase(store, c, m, pc)
	uc.SetLogger(l)
	return uc
}

func ProvideRisk(store domrepo.Store, m domrepo.Metrics, pc usecase.PipelineConfig, l *applogger.Logger) *usecase.RiskUseCase {
	uc := usecase.NewRiskUseCase(store, m, pc)
	uc.SetLogger(l)
	return uc
}

// ProvideJobPublisher enqueues out-of-band work on Redis. Nil when the queue is disabled.
func ProvideJobPublisher(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) queue.QueueService {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(jobKeyPrefix(cfg)))
}

func jobKeyPrefix(cfg *config.Config) string {
	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "volcast"
	}
	return prefix + ":jobs"
}

// ProvideJobConsumer runs train, backtest and backfill jobs. Nil when the queue is disabled.
func ProvideJobConsumer(
	cfg *config.Config,
	rc *cache.RedisCache,
	l *applogger.Logger,
	trainer *usecase.TrainerUseCase,
	backtester *usecase.BacktesterUseCase,
	predictor *usecase.PredictorUseCase,
	pc usecase.PipelineConfig,
) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisConsumer(l, queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), []queue.Job{
		usecase.NewTrainJob(trainer),
		usecase.NewBacktestJob(backtester, pc.Gate),
		usecase.NewBackfillJob(predictor),
	}, queue.WithKeyPrefix(jobKeyPrefix(cfg)), queue.WithRetryPolicy(errs.Retryable))
}

// ProvideKafkaConsumer creates a Kafka consumer for the closed-candle topic. Nil
// without brokers. Only upstream failures are retried; bad candles are rejected at once.
func ProvideKafkaConsumer(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerRetryPolicy(errs.Retryable),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRejectHook(func(_ string, _ pkgkafka.Record, err error, _ bool) {
			m.RecordError("candle_" + errs.Kind(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaCandlesHandler registers handler for the closed-candle topic.
func ProvideKafkaCandlesHandler(store domrepo.Store, m domrepo.Metrics, cfg *config.Config) *usecase.KafkaCandlesHandler {
	return usecase.NewKafkaCandlesHandler(cfg.Kafka.CandlesTopic, store, m)
}

// ProvideScheduler builds the cron scheduler for the configured frequencies.
func ProvideScheduler(
	cfg *config.Config,
	syncer service.CandleSyncer,
	returns *usecase.ReturnsBuilderUseCase,
	trainer *usecase.TrainerUseCase,
	predictor *usecase.PredictorUseCase,
	jobs queue.QueueService,
	l *applogger.Logger,
) *scheduler.Scheduler {
	freqs := make([]domrepo.Frequency, 0, len(cfg.Forecast.Freqs))
	for _, f := range cfg.Forecast.Freqs {
		freqs = append(freqs, domrepo.Frequency(f))
	}
	s := scheduler.New(context.Background(), scheduler.Config{
		Symbol:       cfg.Forecast.Symbol,
		BaseInterval: cfg.Forecast.BaseInterval,
		Freqs:        freqs,
		PipelineCron: cfg.Scheduler.PipelineCron,
		TrainCron:    cfg.Scheduler.TrainCron,
		Timeout:      cfg.Scheduler.Timeout,
	}, syncer, returns, trainer, predictor, jobs)
	s.SetLogger(l)
	return s
}

// ProvideHTTPHandler exposes the pipeline over Echo.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	store domrepo.Store,
	returns *usecase.ReturnsBuilderUseCase,
	trainer *usecase.TrainerUseCase,
	predictor *usecase.PredictorUseCase,
	backtester *usecase.BacktesterUseCase,
	risk *usecase.RiskUseCase,
	jobs queue.QueueService,
) *api.ForecastEchoHandler {
	opts := []api.HandlerOption{api.WithRateLimit(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)}
	if jobs != nil {
		opts = append(opts, api.WithJobQueue(jobs))
	}
	return api.NewForecastEchoHandler(l, cfg.Forecast.Symbol, api.ForecastServices{
		Returns:    returns,
		Trainer:    trainer,
		Predictor:  predictor,
		Backtester: backtester,
		Risk:       risk,
		Health:     store,
	}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.ForecastEchoHandler,
	sched *scheduler.Scheduler,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaCandlesHandler,
	jobs *queue.RedisQueue,
	store domrepo.Store,
	pub domrepo.PredictionPublisher,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	app := server.New(cfg, l, handler, sched)
	if consumer != nil {
		app.SetCandleConsumer(consumer, kh)
	}
	if jobs != nil {
		app.SetJobConsumer(jobs)
	}
	// the publisher owns the Kafka producer
	app.AddCloser("predictions publisher", pub.Close)
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	if rc != nil {
		app.AddCloser("redis", rc.Close)
	}
	app.AddCloser("store", store.Close)
	return app
}
