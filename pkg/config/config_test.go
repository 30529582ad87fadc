package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("forecast:\n  symbol: ETHUSDT\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Store.Driver != "memory" || c.Forecast.Model != "garch" {
		t.Fatalf("unexpected defaults: driver=%s model=%s", c.Store.Driver, c.Forecast.Model)
	}
	if c.Forecast.Symbol != "ETHUSDT" || c.Forecast.GARCHWindow != 500 || c.Forecast.BackfillWindow != 50 {
		t.Fatalf("unexpected forecast section %+v", c.Forecast)
	}
	if c.Backtest.TestFraction != 0.7 || c.Backtest.RetrainEvery != 24 {
		t.Fatalf("unexpected backtest section %+v", c.Backtest)
	}
	if c.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", c.Server.ShutdownTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"driver":   "store:\n  driver: sqlite\n",
		"model":    "forecast:\n  model: lstm\n",
		"freq":     "forecast:\n  freqs: [1h, 5m]\n",
		"fraction": "backtest:\n  test_fraction: 1.5\n",
		"postgres": "store:\n  driver: postgres\n",
		"queue":    "queue:\n  enabled: true\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := map[string]string{
		"DATABASE_DSN":    "postgres://volcast@db/volcast",
		"KAFKA_BROKERS":   "k1:9092, k2:9092",
		"REDIS_ADDR":      "cache:6380",
		"SYMBOL":          "SOLUSDT",
		"MODEL_TYPE":      "linear",
		"CLICKHOUSE_HOST": "ch",
	}
	if err := c.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if c.Store.Driver != "postgres" || !strings.HasPrefix(c.Postgres.DSN, "postgres://") {
		t.Fatalf("dsn override not applied: %+v", c.Postgres)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", c.Kafka.Brokers)
	}
	if c.Redis.Host != "cache" || c.Redis.Port != 6380 {
		t.Fatalf("unexpected redis %s:%d", c.Redis.Host, c.Redis.Port)
	}
	if c.Forecast.Symbol != "SOLUSDT" || c.Forecast.Model != "linear" || c.ClickHouse.Host != "ch" {
		t.Fatalf("unexpected overrides %+v", c.Forecast)
	}

	if err := c.ApplyEnv(func(k string) string {
		if k == "MODEL_TYPE" {
			return "arima"
		}
		return ""
	}); err == nil {
		t.Fatalf("expected invalid MODEL_TYPE to fail validation")
	}
}
