package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	rowsWritten *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastYHat    *prometheus.GaugeVec
	backtestMAE *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		rowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volcast_rows_written_total",
				Help: "Rows inserted per table (conflicts excluded)",
			},
			[]string{"table"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastYHat: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volcast_last_forecast",
				Help: "Most recent next-period absolute return forecast",
			},
			[]string{"symbol", "freq"},
		),
		backtestMAE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volcast_backtest_mae",
				Help: "Walk-forward mean absolute error of the last backtest",
			},
			[]string{"model", "series"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volcast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRowsWritten counts rows actually inserted into table.
func (r *Recorder) RecordRowsWritten(table string, n int) {
	if n > 0 {
		r.rowsWritten.WithLabelValues(table).Add(float64(n))
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordForecast sets the last forecast gauge.
func (r *Recorder) RecordForecast(symbol, freq string, yhat float64) {
	r.lastYHat.WithLabelValues(symbol, freq).Set(yhat)
}

// RecordBacktest sets baseline and model MAE gauges.
func (r *Recorder) RecordBacktest(model string, baselineMAE, modelMAE float64) {
	r.backtestMAE.WithLabelValues(model, "baseline").Set(baselineMAE)
	r.backtestMAE.WithLabelValues(model, "model").Set(modelMAE)
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) RecordRowsWritten(string, int)           {}
func (Noop) RecordError(string)                      {}
func (Noop) RecordLatency(string, float64)           {}
func (Noop) RecordForecast(string, string, float64)  {}
func (Noop) RecordBacktest(string, float64, float64) {}
