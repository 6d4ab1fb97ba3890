package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/chronicle/chronicle-go/storage"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Topic        string        `yaml:"topic" json:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
}

// KafkaPublisher writes event envelopes to a Kafka topic, keyed by event
// type so that events of one type stay in partition order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("brokers list is empty")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: config.BatchTimeout,
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes all events as one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...storage.Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(events))
	for i, e := range events {
		payload, err := json.Marshal(Envelope{ID: uuid.NewString(), Type: e.Type, Data: e.Data})
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		messages[i] = kafka.Message{Key: []byte(e.Type), Value: payload}
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
