package repository

import (
	"context"
	"fmt"
	"time"

	"VolCast/internal/domain/models"
	domrepo "VolCast/internal/domain/repository"
	pkgkafka "VolCast/pkg/kafka"
	applogger "VolCast/pkg/logger"
)

type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// PredictionEvent is the Kafka payload announcing a newly stored prediction.
type PredictionEvent struct {
	Symbol       string    `json:"symbol"`
	Freq         string    `json:"freq"`
	Target       string    `json:"target"`
	PredictedFor time.Time `json:"predicted_for"`
	YHat         float64   `json:"yhat"`
	CreatedAt    time.Time `json:"created_at"`
}

// KafkaPredictionPublisher implements PredictionPublisher for Kafka.
type KafkaPredictionPublisher struct {
	producer batchProducer
	topic    string
}

var _ domrepo.PredictionPublisher = (*KafkaPredictionPublisher)(nil)

// NewKafkaPredictionPublisher creates Kafka publisher.
func NewKafkaPredictionPublisher(producer *pkgkafka.Producer, topic string) *KafkaPredictionPublisher {
	return &KafkaPredictionPublisher{producer: producer, topic: topic}
}

func (p *KafkaPredictionPublisher) PublishPredictions(ctx context.Context, preds []models.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(preds))
	for i, pr := range preds {
		msgs[i] = pkgkafka.Message{
			Key: []byte(pr.Symbol + ":" + pr.Freq),
			Value: PredictionEvent{
				Symbol:       pr.Symbol,
				Freq:         pr.Freq,
				Target:       pr.Target,
				PredictedFor: pr.PredictedFor.UTC(),
				YHat:         pr.YHat,
				CreatedAt:    pr.CreatedAt.UTC(),
			},
		}
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish predictions: %w", err)
	}
	return nil
}

func (p *KafkaPredictionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NoopPredictionPublisher drops events when Kafka is disabled.
type NoopPredictionPublisher struct{}

var _ domrepo.PredictionPublisher = NoopPredictionPublisher{}

func (NoopPredictionPublisher) PublishPredictions(context.Context, []models.Prediction) error {
	return nil
}

func (NoopPredictionPublisher) Close() error { return nil }

// KafkaLogPublisher adapts the producer to logger.Publisher for the log collector.
type KafkaLogPublisher struct {
	producer *pkgkafka.Producer
	service  string
}

var _ applogger.Publisher = (*KafkaLogPublisher)(nil)

func NewKafkaLogPublisher(producer *pkgkafka.Producer, service string) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: producer, service: service}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, []byte(p.service), payload)
}
