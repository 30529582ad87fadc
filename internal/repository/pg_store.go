package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	applogger "VolCast/pkg/logger"
	pkgpg "VolCast/pkg/postgres"
)

const insertBatchSize = 500

type candleRow struct {
	Symbol   string          `gorm:"primaryKey"`
	Interval string          `gorm:"primaryKey"`
	OpenTime time.Time       `gorm:"primaryKey"`
	Open     decimal.Decimal `gorm:"type:numeric"`
	High     decimal.Decimal `gorm:"type:numeric"`
	Low      decimal.Decimal `gorm:"type:numeric"`
	Close    decimal.Decimal `gorm:"type:numeric"`
	Volume   decimal.Decimal `gorm:"type:numeric"`
}

func (candleRow) TableName() string { return "candles" }

type returnRow struct {
	Symbol string          `gorm:"primaryKey"`
	Time   time.Time       `gorm:"primaryKey"`
	Close  decimal.Decimal `gorm:"type:numeric"`
	R      *float64
}

type artifactRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Symbol    string
	Freq      string
	Target    string
	ModelType string
	TrainedAt time.Time
	Artifact  datatypes.JSON `gorm:"type:jsonb"`
}

func (artifactRow) TableName() string { return "model_artifacts" }

type predictionRow struct {
	Symbol       string    `gorm:"primaryKey"`
	Freq         string    `gorm:"primaryKey"`
	Target       string    `gorm:"primaryKey"`
	PredictedFor time.Time `gorm:"primaryKey"`
	YHat         float64   `gorm:"column:yhat"`
	CreatedAt    time.Time
}

func (predictionRow) TableName() string { return "predictions" }

// PGStore implements Store on Postgres through gorm.
type PGStore struct {
	db     *gorm.DB
	client *pkgpg.Client
	l      *applogger.Logger
}

var _ domrepo.Store = (*PGStore)(nil)

func NewPGStore(pg *pkgpg.Client) *PGStore {
	return &PGStore{db: pg.Gorm(), client: pg}
}

// SetLogger injects a structured logger.
func (s *PGStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *PGStore) InTx(ctx context.Context, fn func(tx domrepo.Store) error) error {
	var opts []*sql.TxOptions
	if domrepo.IsReadSnapshot(ctx) {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PGStore{db: tx, l: s.l})
	}, opts...)
	if err == nil {
		return nil
	}
	if errs.Kind(err) != "internal" {
		return err
	}
	if isConnError(err) {
		return errs.Upstream("postgres transaction", err)
	}
	return err
}

func (s *PGStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleRow{
			Symbol: c.Symbol, Interval: c.Interval, OpenTime: c.OpenTime.UTC(),
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		})
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, s.fail("insert", "candles", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *PGStore) CandlesSince(ctx context.Context, symbol, interval string, from time.Time) ([]models.Candle, error) {
	var rows []candleRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ? AND open_time >= ?", symbol, interval, from.UTC()).
		Order("open_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, s.fail("select", "candles", err)
	}
	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *PGStore) LatestCandle(ctx context.Context, symbol, interval string) (*models.Candle, error) {
	var row candleRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("select", "candles", err)
	}
	c := row.toModel()
	return &c, nil
}

func (s *PGStore) InsertReturns(ctx context.Context, freq domrepo.Frequency, obs []models.ReturnObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	table := freq.ReturnsTable()
	rows := make([]returnRow, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, returnRow{Symbol: o.Symbol, Time: o.Time.UTC(), Close: o.Close, R: o.R})
	}
	res := s.db.WithContext(ctx).Table(table).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, insertBatchSize)
	if res.Error != nil {
		return 0, s.fail("insert", table, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *PGStore) ReturnsSince(ctx context.Context, symbol string, freq domrepo.Frequency, from time.Time) ([]models.ReturnObservation, error) {
	table := freq.ReturnsTable()
	var rows []returnRow
	err := s.db.WithContext(ctx).Table(table).
		Where("symbol = ? AND time >= ?", symbol, from.UTC()).
		Order("time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, s.fail("select", table, err)
	}
	return returnsToModels(rows), nil
}

func (s *PGStore) TailReturns(ctx context.Context, symbol string, freq domrepo.Frequency, n int) ([]models.ReturnObservation, error) {
	if n <= 0 {
		return nil, nil
	}
	table := freq.ReturnsTable()
	var rows []returnRow
	err := s.db.WithContext(ctx).Table(table).
		Where("symbol = ?", symbol).
		Order("time DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, s.fail("select", table, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return returnsToModels(rows), nil
}

func (s *PGStore) LatestReturnTime(ctx context.Context, symbol string, freq domrepo.Frequency) (time.Time, bool, error) {
	table := freq.ReturnsTable()
	var latest sql.NullTime
	err := s.db.WithContext(ctx).Table(table).
		Select("MAX(time)").
		Where("symbol = ?", symbol).
		Row().Scan(&latest)
	if err != nil {
		return time.Time{}, false, s.fail("select", table, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func (s *PGStore) SaveArtifact(ctx context.Context, a *models.ModelArtifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := artifactRow{
		ID: a.ID, Symbol: a.Symbol, Freq: a.Freq, Target: a.Target,
		ModelType: a.ModelType, TrainedAt: a.TrainedAt.UTC(), Artifact: datatypes.JSON(a.Payload),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return s.fail("insert", "model_artifacts", err)
	}
	return nil
}

func (s *PGStore) LatestArtifact(ctx context.Context, symbol string, freq domrepo.Frequency, target string) (*models.ModelArtifact, error) {
	var row artifactRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND freq = ? AND target = ?", symbol, string(freq), target).
		Order("trained_at DESC").Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("select", "model_artifacts", err)
	}
	return &models.ModelArtifact{
		ID: row.ID, Symbol: row.Symbol, Freq: row.Freq, Target: row.Target,
		ModelType: row.ModelType, TrainedAt: row.TrainedAt.UTC(), Payload: []byte(row.Artifact),
	}, nil
}

func (s *PGStore) InsertPredictions(ctx context.Context, preds []models.Prediction) ([]models.Prediction, error) {
	inserted := make([]models.Prediction, 0, len(preds))
	for _, p := range preds {
		row := predictionRow{
			Symbol: p.Symbol, Freq: p.Freq, Target: p.Target,
			PredictedFor: p.PredictedFor.UTC(), YHat: p.YHat, CreatedAt: p.CreatedAt.UTC(),
		}
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return nil, s.fail("insert", "predictions", res.Error)
		}
		if res.RowsAffected == 1 {
			inserted = append(inserted, row.toModel())
		}
	}
	return inserted, nil
}

func (s *PGStore) PredictionsSince(ctx context.Context, symbol string, freq domrepo.Frequency, target string, from time.Time) ([]models.Prediction, error) {
	var rows []predictionRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND freq = ? AND target = ? AND predicted_for >= ?", symbol, string(freq), target, from.UTC()).
		Order("predicted_for ASC").
		Find(&rows).Error
	if err != nil {
		return nil, s.fail("select", "predictions", err)
	}
	out := make([]models.Prediction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *PGStore) LatestPrediction(ctx context.Context, symbol string, freq domrepo.Frequency, target string) (*models.Prediction, error) {
	var row predictionRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND freq = ? AND target = ?", symbol, string(freq), target).
		Order("predicted_for DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("select", "predictions", err)
	}
	p := row.toModel()
	return &p, nil
}

func (s *PGStore) Health(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Health(ctx); err != nil {
		return errs.Upstream("postgres ping", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// fail logs and classifies a database error. Connection-level failures become UpstreamError.
func (s *PGStore) fail(op, table string, err error) error {
	if s.l != nil {
		s.l.Error("postgres "+op+" error",
			applogger.String("table", table),
			applogger.Error(err),
		)
	}
	if isConnError(err) {
		return errs.Upstream(fmt.Sprintf("postgres %s %s", op, table), err)
	}
	return fmt.Errorf("postgres %s %s: %w", op, table, err)
}

func isConnError(err error) bool {
	var netErr net.Error
	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &netErr), errors.As(err, &connErr):
		return true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return pgconn.SafeToRetry(err)
}

func (r candleRow) toModel() models.Candle {
	return models.Candle{
		Symbol: r.Symbol, Interval: r.Interval, OpenTime: r.OpenTime.UTC(),
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
	}
}

func (r predictionRow) toModel() models.Prediction {
	return models.Prediction{
		Symbol: r.Symbol, Freq: r.Freq, Target: r.Target,
		PredictedFor: r.PredictedFor.UTC(), YHat: r.YHat, CreatedAt: r.CreatedAt.UTC(),
	}
}

func returnsToModels(rows []returnRow) []models.ReturnObservation {
	out := make([]models.ReturnObservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ReturnObservation{Symbol: r.Symbol, Time: r.Time.UTC(), Close: r.Close, R: r.R})
	}
	return out
}
