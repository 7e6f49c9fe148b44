package repository

import (
	"context"

	"PivotPull/internal/domain/models"
	domrepo "PivotPull/internal/domain/repository"
	pkgkafka "PivotPull/pkg/kafka"
)

// KafkaDecisionPublisher publishes engine decisions keyed by run id.
type KafkaDecisionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaDecisionPublisher creates a Kafka publisher.
func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, topic string) domrepo.DecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) Publish(ctx context.Context, d models.Decision) error {
	return p.producer.Publish(ctx, p.topic, []byte(d.RunID), d)
}

// Close is a no-op: the producer is shared with the log collector and closed by its owner.
func (p *KafkaDecisionPublisher) Close() error {
	return nil
}

// NopDecisionPublisher drops decisions.
type NopDecisionPublisher struct{}

func (NopDecisionPublisher) Publish(context.Context, models.Decision) error { return nil }

func (NopDecisionPublisher) Close() error { return nil }
