package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	pkgch "VolCast/pkg/clickhouse"
	applogger "VolCast/pkg/logger"
)

// CHCandleSource reads closed OHLCV candles from a ClickHouse table keyed by
// (symbol, interval, open_time).
type CHCandleSource struct {
	db    *sql.DB
	table string
	now   func() time.Time
	l     *applogger.Logger
}

var _ domrepo.CandleSource = (*CHCandleSource)(nil)

func NewCHCandleSource(ch *pkgch.Client, table string) *CHCandleSource {
	return &CHCandleSource{db: ch.DB(), table: table, now: time.Now}
}

// SetLogger injects a structured logger.
func (s *CHCandleSource) SetLogger(l *applogger.Logger) { s.l = l }

// ClosedCandles returns candles with from <= open_time < to whose interval has
// fully elapsed, ascending by open time.
func (s *CHCandleSource) ClosedCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error) {
	start := time.Now()
	period, err := domrepo.ParseInterval(interval)
	if err != nil {
		return nil, &errs.DataError{Field: "interval", Reason: err.Error()}
	}
	const qtpl = `
        SELECT open_time, toString(open), toString(high), toString(low), toString(close), toString(volume)
        FROM %s
        WHERE symbol = ? AND interval = ? AND open_time >= ? AND open_time < ?
        ORDER BY open_time ASC
    `
	q := fmt.Sprintf(qtpl, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, interval, from.UTC(), to.UTC())
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse closed_candles query error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.String("interval", interval),
				applogger.Error(err),
			)
		}
		return nil, errs.Upstream("clickhouse closed candles", err)
	}
	defer rows.Close()

	now := s.now().UTC()
	out := make([]models.Candle, 0, 1024)
	for rows.Next() {
		var (
			openTime                     time.Time
			open, high, low, closeP, vol string
		)
		if err := rows.Scan(&openTime, &open, &high, &low, &closeP, &vol); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse closed_candles scan error",
					applogger.String("table", s.table),
					applogger.String("symbol", symbol),
					applogger.Error(err),
				)
			}
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		if openTime.Add(period).After(now) {
			continue
		}
		c, err := parseCandle(symbol, interval, openTime, open, high, low, closeP, vol)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse closed_candles rows error",
				applogger.String("table", s.table),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, errs.Upstream("clickhouse closed candles", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse closed_candles ok",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.String("interval", interval),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func parseCandle(symbol, interval string, openTime time.Time, fields ...string) (models.Candle, error) {
	names := [...]string{"open", "high", "low", "close", "volume"}
	vals := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return models.Candle{}, &errs.DataError{Field: names[i], At: openTime, Reason: err.Error()}
		}
		vals[i] = d
	}
	return models.Candle{
		Symbol:   symbol,
		Interval: interval,
		OpenTime: openTime.UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}
