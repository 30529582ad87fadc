//go:build wireinject
// +build wireinject

package di

import (
	"VolCast/pkg/config"
	"VolCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideStore,
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvidePredictionPublisher,

		// Use cases
		ProvidePipelineConfig,
		ProvideCandleSyncer,
		ProvideReturnsBuilder,
		ProvideTrainer,
		ProvidePredictor,
		ProvideBacktester,
		ProvideRisk,

		// Background work
		ProvideJobPublisher,
		ProvideJobConsumer,
		ProvideKafkaConsumer,
		ProvideKafkaCandlesHandler,
		ProvideScheduler,

		// Transport and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeToolkit wires the pipeline stages without servers or consumers.
func InitializeToolkit(cfg *config.Config) (*Toolkit, error) {
	wire.Build(
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideNoopMetrics,
		ProvideStore,
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,
		ProvidePredictionPublisher,
		ProvidePipelineConfig,
		ProvideCandleSyncer,
		ProvideReturnsBuilder,
		ProvideTrainer,
		ProvidePredictor,
		ProvideBacktester,
		ProvideRisk,
		ProvideToolkit,
	)
	return &Toolkit{}, nil
}
