package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"

	"vitalguard/internal/config"
)

type kafkaPublisher struct {
	writer *kafka.Writer
}

func newKafkaPublisher(cfg config.OutboxConfig) *kafkaPublisher {
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, rec Record) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Kind),
		Value: rec.Payload,
		Headers: []kafka.Header{
			{Key: "id", Value: []byte(rec.ID)},
			{Key: "priority", Value: []byte(rec.Priority)},
			{Key: "conflict_policy", Value: []byte(rec.Policy)},
		},
	})
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
