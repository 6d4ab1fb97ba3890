package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/chronicle/chronicle-go/storage"
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	DB       int    `yaml:"db" json:"db"`
	Password string `yaml:"password" json:"password"`
	Channel  string `yaml:"channel" json:"channel"`
}

// RedisPublisher publishes event envelopes on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, config RedisConfig) (*RedisPublisher, error) {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.Channel == "" {
		config.Channel = "chronicle.events"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		DB:       config.DB,
		Password: config.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisPublisher{client: client, channel: config.Channel}, nil
}

// Publish sends one envelope per event.
func (p *RedisPublisher) Publish(ctx context.Context, events ...storage.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(Envelope{ID: uuid.NewString(), Type: e.Type, Data: e.Data})
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", e.Type, err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
