package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chronicle/chronicle-go/storage"
)

// AMQPConfig configures the AMQP publisher.
type AMQPConfig struct {
	URL             string `yaml:"url" json:"url"`
	Exchange        string `yaml:"exchange" json:"exchange"`
	ExchangeType    string `yaml:"exchange_type" json:"exchange_type"`
	RoutingKey      string `yaml:"routing_key" json:"routing_key"`
	ExchangeDeclare bool   `yaml:"exchange_declare" json:"exchange_declare"`
}

// AMQPPublisher publishes event envelopes to an AMQP exchange.
type AMQPPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPPublisher dials the broker and optionally declares the exchange.
func NewAMQPPublisher(config AMQPConfig) (*AMQPPublisher, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if config.ExchangeType == "" {
		config.ExchangeType = "topic"
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if config.ExchangeDeclare && config.Exchange != "" {
		if err := channel.ExchangeDeclare(config.Exchange, config.ExchangeType, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("declare exchange: %w", err)
		}
	}
	return &AMQPPublisher{
		conn:       conn,
		channel:    channel,
		exchange:   config.Exchange,
		routingKey: config.RoutingKey,
	}, nil
}

// Publish sends one message per event. The routing key falls back to the
// event type when none is configured.
func (p *AMQPPublisher) Publish(ctx context.Context, events ...storage.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(Envelope{ID: uuid.NewString(), Type: e.Type, Data: e.Data})
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		key := p.routingKey
		if key == "" {
			key = e.Type
		}
		err = p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
			ContentType: "application/json",
			MessageId:   uuid.NewString(),
			Timestamp:   time.Now(),
			Body:        payload,
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", e.Type, err)
		}
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return p.conn.Close()
}
