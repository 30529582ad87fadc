package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"VolCast/internal/domain/errs"
	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	pkgkafka "VolCast/pkg/kafka"
	"VolCast/pkg/util"
)

// KafkaCandlesHandler consumes closed-candle messages and writes them to the store.
type KafkaCandlesHandler struct {
	topic   string
	store   domrepo.Store
	metrics domrepo.Metrics
}

func NewKafkaCandlesHandler(topic string, store domrepo.Store, metrics domrepo.Metrics) *KafkaCandlesHandler {
	return &KafkaCandlesHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

// candleMessage is the wire schema; prices may be JSON numbers or strings and t
// may be unix seconds, unix milliseconds or RFC3339.
type candleMessage struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	T        json.RawMessage `json:"t"`
	O        decimal.Decimal `json:"o"`
	H        decimal.Decimal `json:"h"`
	L        decimal.Decimal `json:"l"`
	C        decimal.Decimal `json:"c"`
	V        decimal.Decimal `json:"v"`
	Closed   *bool           `json:"closed,omitempty"`
}

func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	var m candleMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.Closed != nil && !*m.Closed {
		return nil
	}
	openTime, ok := util.ParseTime(strings.Trim(string(m.T), `"`))
	if !ok {
		h.metrics.RecordError("data")
		return &errs.DataError{Field: "t", Reason: fmt.Sprintf("unparseable open time %s", m.T)}
	}
	if m.Symbol == "" || m.Interval == "" {
		h.metrics.RecordError("data")
		return &errs.DataError{Field: "candle", At: openTime, Reason: "symbol and interval are required"}
	}
	period, err := domrepo.ParseInterval(m.Interval)
	if err != nil {
		h.metrics.RecordError("data")
		return &errs.DataError{Field: "interval", At: openTime, Reason: err.Error()}
	}
	if !m.C.IsPositive() {
		h.metrics.RecordError("data")
		return &errs.DataError{Field: "close", At: openTime, Reason: fmt.Sprintf("non-positive close %s", m.C)}
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(openTime.Add(period)).Seconds())

	start := time.Now()
	n, err := h.store.InsertCandles(ctx, []models.Candle{{
		Symbol:   m.Symbol,
		Interval: m.Interval,
		OpenTime: openTime,
		Open:     m.O,
		High:     m.H,
		Low:      m.L,
		Close:    m.C,
		Volume:   m.V,
	}})
	h.metrics.RecordLatency("candle_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordRowsWritten("candles", n)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)
