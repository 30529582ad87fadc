package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client manages the Postgres connection pool behind gorm.
type Client struct {
	gdb *gorm.DB
	db  *sql.DB
}

// NewClient opens and pings a Postgres connection pool.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Port:            5432,
		SSLMode:         "disable",
		TimeZone:        "UTC",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.DSN == "" && cfg.Host == "" {
		return nil, fmt.Errorf("dsn or host is required")
	}

	gdb, err := gorm.Open(postgres.Open(buildDSN(*cfg)), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &Client{gdb: gdb, db: db}, nil
}

// Gorm returns the gorm handle.
func (c *Client) Gorm() *gorm.DB {
	return c.gdb
}

// DB returns *sql.DB for direct use.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Health performs health check.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// InitSchema runs idempotent DDL statements.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Schema is the DDL for the forecasting tables.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol text NOT NULL, interval text NOT NULL, open_time timestamptz NOT NULL,
			open numeric NOT NULL, high numeric NOT NULL, low numeric NOT NULL,
			close numeric NOT NULL, volume numeric NOT NULL,
			PRIMARY KEY (symbol, interval, open_time))`,
		`CREATE TABLE IF NOT EXISTS returns_1h (
			symbol text NOT NULL, time timestamptz NOT NULL, close numeric NOT NULL, r double precision,
			PRIMARY KEY (symbol, time))`,
		`CREATE TABLE IF NOT EXISTS returns_1d (
			symbol text NOT NULL, time timestamptz NOT NULL, close numeric NOT NULL, r double precision,
			PRIMARY KEY (symbol, time))`,
		`CREATE TABLE IF NOT EXISTS model_artifacts (
			id uuid PRIMARY KEY, symbol text NOT NULL, freq text NOT NULL, target text NOT NULL,
			model_type text NOT NULL, trained_at timestamptz NOT NULL, artifact jsonb NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS model_artifacts_latest ON model_artifacts (symbol, freq, target, trained_at DESC)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			symbol text NOT NULL, freq text NOT NULL, target text NOT NULL, predicted_for timestamptz NOT NULL,
			yhat double precision NOT NULL, created_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (symbol, freq, target, predicted_for))`,
	}
}

func buildDSN(cfg ClientConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	parts := []string{
		fmt.Sprintf("host=%s", cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
	}
	if cfg.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}
	if cfg.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", cfg.Database))
	}
	if cfg.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
	}
	if cfg.TimeZone != "" {
		parts = append(parts, fmt.Sprintf("TimeZone=%s", cfg.TimeZone))
	}
	return strings.Join(parts, " ")
}
