// Package chronicle ties the event store's components together: predicate
// queries over a PostgreSQL (or in-memory) document store, event publication
// to brokers, and Parquet archiving.
package chronicle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chronicle/chronicle-go/archive"
	"github.com/chronicle/chronicle-go/bus"
	"github.com/chronicle/chronicle-go/storage/postgres"
)

// Config aggregates the component configurations. Sections left zero-valued
// are simply not used by the embedding application.
type Config struct {
	Postgres postgres.Config  `yaml:"postgres" json:"postgres"`
	Redis    bus.RedisConfig  `yaml:"redis" json:"redis"`
	Kafka    bus.KafkaConfig  `yaml:"kafka" json:"kafka"`
	AMQP     bus.AMQPConfig   `yaml:"amqp" json:"amqp"`
	Archive  archive.S3Config `yaml:"archive" json:"archive"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
