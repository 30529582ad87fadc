package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"VolCast/pkg/util"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Logging struct {
		Level              string        `yaml:"level"`
		Format             string        `yaml:"format"`
		Output             string        `yaml:"output"`
		CollectorTopic     string        `yaml:"collector_topic"`
		CollectorInterval  time.Duration `yaml:"collector_interval"`
		CollectorThreshold int           `yaml:"collector_threshold"`
	} `yaml:"logging"`
	Store struct {
		Driver string `yaml:"driver"` // memory or postgres
	} `yaml:"store"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		Database        string        `yaml:"database"`
		User            string        `yaml:"user"`
		Password        string        `yaml:"password"`
		SSLMode         string        `yaml:"sslmode"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		Table            string        `yaml:"table"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Brokers          []string `yaml:"brokers"`
		PredictionsTopic string   `yaml:"predictions_topic"`
		CandlesTopic     string   `yaml:"candles_topic"`
		RequiredAcks     int      `yaml:"required_acks"`
		Compression      string   `yaml:"compression"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		// LocalTTL caps how long a replica serves a cached report from memory.
		LocalTTL time.Duration `yaml:"local_ttl"`
	} `yaml:"redis"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
	Forecast struct {
		Symbol         string        `yaml:"symbol"`
		Model          string        `yaml:"model"` // garch or linear
		BaseInterval   string        `yaml:"base_interval"`
		Freqs          []string      `yaml:"freqs"`
		MaxLag         int           `yaml:"max_lag"`
		MeanWindow     int           `yaml:"mean_window"`
		StdWindow      int           `yaml:"std_window"`
		RidgeAlpha     float64       `yaml:"ridge_alpha"`
		MinTrainRows   int           `yaml:"min_train_rows"`
		GARCHWindow    int           `yaml:"garch_window"`
		BackfillWindow int           `yaml:"backfill_window"`
		AcceptanceGate bool          `yaml:"acceptance_gate"`
		LockTTL        time.Duration `yaml:"lock_ttl"`
		SyncLookback   time.Duration `yaml:"sync_lookback"`
	} `yaml:"forecast"`
	Backtest struct {
		TestFraction float64       `yaml:"test_fraction"`
		RetrainEvery int           `yaml:"retrain_every"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
		MinRefitRows int           `yaml:"min_refit_rows"`
	} `yaml:"backtest"`
	Scheduler struct {
		Enabled      bool          `yaml:"enabled"`
		PipelineCron string        `yaml:"pipeline_cron"`
		TrainCron    string        `yaml:"train_cron"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"scheduler"`
	RateLimit struct {
		Capacity     float64 `yaml:"capacity"`
		RefillPerSec float64 `yaml:"refill_per_sec"`
	} `yaml:"rate_limit"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment and re-validates.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("DATABASE_DSN"); v != "" {
		c.Postgres.DSN = v
		c.Store.Driver = "postgres"
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			host, port = v, ""
		}
		c.Redis.Host = host
		c.Redis.Port = util.ParseIntDefault(port, 6379)
	}
	if v := getenv("SYMBOL"); v != "" {
		c.Forecast.Symbol = v
	}
	if v := getenv("MODEL_TYPE"); v != "" {
		c.Forecast.Model = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.CollectorInterval == 0 {
		c.Logging.CollectorInterval = 30 * time.Second
	}
	if c.Logging.CollectorThreshold == 0 {
		c.Logging.CollectorThreshold = 100
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "candles"
	}
	if c.Kafka.PredictionsTopic == "" {
		c.Kafka.PredictionsTopic = "volcast.predictions"
	}
	if c.Kafka.CandlesTopic == "" {
		c.Kafka.CandlesTopic = "volcast.candles"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "volcast"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RetryLimit == 0 {
		c.Queue.RetryLimit = 3
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = 30 * time.Second
	}

	f := &c.Forecast
	if f.Symbol == "" {
		f.Symbol = "BTCUSDT"
	}
	if f.Model == "" {
		f.Model = "garch"
	}
	if f.BaseInterval == "" {
		f.BaseInterval = "1h"
	}
	if len(f.Freqs) == 0 {
		f.Freqs = []string{"1h", "1d"}
	}
	if f.MeanWindow == 0 {
		f.MeanWindow = 5
	}
	if f.StdWindow == 0 {
		f.StdWindow = 10
	}
	if f.MaxLag == 0 {
		f.MaxLag = 3
	}
	if f.RidgeAlpha == 0 {
		f.RidgeAlpha = 1.0
	}
	if f.MinTrainRows == 0 {
		f.MinTrainRows = 30
	}
	if f.GARCHWindow == 0 {
		f.GARCHWindow = 500
	}
	if f.BackfillWindow == 0 {
		f.BackfillWindow = 50
	}
	if f.LockTTL == 0 {
		f.LockTTL = 10 * time.Minute
	}
	if f.SyncLookback == 0 {
		f.SyncLookback = 90 * 24 * time.Hour
	}

	if c.Backtest.TestFraction == 0 {
		c.Backtest.TestFraction = 0.7
	}
	if c.Backtest.RetrainEvery == 0 {
		c.Backtest.RetrainEvery = 24
	}
	if c.Redis.LocalTTL == 0 {
		c.Redis.LocalTTL = time.Minute
	}
	if c.Backtest.MinRefitRows == 0 {
		c.Backtest.MinRefitRows = 5
	}
	if c.Backtest.CacheTTL == 0 {
		c.Backtest.CacheTTL = time.Hour
	}
	if c.Scheduler.Timeout == 0 {
		c.Scheduler.Timeout = 5 * time.Minute
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 10
	}
	if c.RateLimit.RefillPerSec == 0 {
		c.RateLimit.RefillPerSec = 0.5
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("postgres.dsn or postgres.host is required for store.driver=postgres")
		}
	default:
		return fmt.Errorf("store.driver must be 'memory' or 'postgres', got '%s'", c.Store.Driver)
	}
	if c.Forecast.Model != "garch" && c.Forecast.Model != "linear" {
		return fmt.Errorf("forecast.model must be 'garch' or 'linear', got '%s'", c.Forecast.Model)
	}
	if c.Forecast.Symbol == "" {
		return fmt.Errorf("forecast.symbol is required")
	}
	for _, f := range c.Forecast.Freqs {
		if f != "1h" && f != "1d" {
			return fmt.Errorf("forecast.freqs: unsupported frequency '%s'", f)
		}
	}
	if c.Forecast.MaxLag < 0 || c.Forecast.MeanWindow < 1 || c.Forecast.StdWindow < 2 {
		return fmt.Errorf("forecast: max_lag >= 0, mean_window >= 1 and std_window >= 2 are required")
	}
	if c.Forecast.RidgeAlpha < 0 {
		return fmt.Errorf("forecast.ridge_alpha must be >= 0")
	}
	if !(c.Backtest.TestFraction > 0 && c.Backtest.TestFraction < 1) {
		return fmt.Errorf("backtest.test_fraction must be in (0,1), got %v", c.Backtest.TestFraction)
	}
	if c.Backtest.RetrainEvery < 1 {
		return fmt.Errorf("backtest.retrain_every must be >= 1")
	}
	if c.Queue.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("queue.enabled requires redis.host")
	}
	if c.Logging.CollectorTopic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("logging.collector_topic requires kafka.brokers")
	}
	return nil
}
