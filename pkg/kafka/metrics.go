package kafka

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volcast",
		Subsystem: "kafka_producer",
		Name:      "messages_total",
		Help:      "Messages published by topic, codec and result",
	}, []string{"topic", "compression", "result"})
	producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volcast",
		Subsystem: "kafka_producer",
		Name:      "bytes_total",
		Help:      "Payload bytes published",
	}, []string{"topic"})
	producerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "volcast",
		Subsystem: "kafka_producer",
		Name:      "publish_seconds",
		Help:      "Latency of one publish call",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})

	consumerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volcast",
		Subsystem: "kafka_consumer",
		Name:      "messages_total",
		Help:      "Consumed messages by topic and outcome (ok, rejected, dead_lettered)",
	}, []string{"topic", "outcome"})
	consumerAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "volcast",
		Subsystem: "kafka_consumer",
		Name:      "attempts",
		Help:      "Handler attempts per message",
		Buckets:   []float64{1, 2, 3, 5, 8},
	}, []string{"topic"})
	consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "volcast",
		Subsystem: "kafka_consumer",
		Name:      "handle_seconds",
		Help:      "Handling time per message including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
	consumerBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "volcast",
		Subsystem: "kafka_consumer",
		Name:      "backlog",
		Help:      "Fetched messages waiting for a worker",
	}, []string{"topic"})
)

func observePublish(topic, codec string, n int, size int64, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, codec, result).Add(float64(n))
	producerBytes.WithLabelValues(topic).Add(float64(size))
	producerLatency.WithLabelValues(topic).Observe(d.Seconds())
}
