package middleware

import (
	"strconv"
	"time"

	applogger "VolCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volcast",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route template, method and status class",
	}, []string{"route", "method", "class"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "volcast",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API latency; backtests dominate the upper buckets",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30, 120},
	}, []string{"route", "method"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "volcast",
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "Requests being served",
	})

	httpResponseBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "volcast",
		Subsystem: "http",
		Name:      "response_bytes",
		Help:      "Response body size; /v1/series can be large",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"route"})
)

// EchoMetrics records request metrics labelled by route template, logs 5xx answers
// as errors and anything slower than slow as a warning.
func EchoMetrics(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the error so the status below is the real one
				c.Error(err)
			}
			elapsed := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			status := c.Response().Status
			size := c.Response().Size

			httpRequests.WithLabelValues(route, method, statusClass(status)).Inc()
			httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
			httpResponseBytes.WithLabelValues(route).Observe(float64(size))

			if l == nil {
				return nil
			}
			fields := []applogger.Field{
				applogger.String("route", route),
				applogger.String("method", method),
				applogger.Int("status", status),
				applogger.Duration("duration_ms", elapsed),
				applogger.Int64("bytes", size),
			}
			switch {
			case status >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && elapsed >= slow:
				l.Warn("http request slow", fields...)
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
