package kafka

import (
	"time"

	"hireloop/internal/platform/kafka/consumer"
	"hireloop/internal/platform/kafka/producer"
	"hireloop/internal/platform/retry"
)

// Topic routing modes for auth events.
const (
	TopicModeSingle  = "single"
	TopicModePerType = "per_type"
)

// Config is the broker section of the service configuration.
type Config struct {
	Brokers         string        `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	TopicMode       string        `yaml:"topic_mode"`
	Acks            string        `yaml:"acks"`
	Retries         int           `yaml:"retries"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`
	Connect         retry.Policy  `yaml:"connect"`
	ConsumerGroup   string        `yaml:"consumer_group"`
}

// DefaultConfig returns production defaults. Brokers are empty: the service
// runs with a discarding producer until they are configured.
func DefaultConfig() Config {
	return Config{
		Topic:           "hireloop.auth.events",
		TopicMode:       TopicModeSingle,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
		DialTimeout:     3 * time.Second,
		AttemptTimeout:  5 * time.Second,
		CloseTimeout:    5 * time.Second,
		Connect:         retry.Default(),
		ConsumerGroup:   "hireloop-auth-eventtail",
	}
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool {
	return c.Brokers != ""
}

// ProducerConfig projects the producer connection settings.
func (c Config) ProducerConfig() producer.Config {
	return producer.Config{
		Brokers:         c.Brokers,
		Acks:            c.Acks,
		Retries:         c.Retries,
		DeliveryTimeout: c.DeliveryTimeout,
		DialTimeout:     c.DialTimeout,
		CloseTimeout:    c.CloseTimeout,
	}
}

// ConsumerConfig projects consumer settings for the given topics.
func (c Config) ConsumerConfig(topics ...string) consumer.Config {
	return consumer.Config{
		Brokers:         c.Brokers,
		GroupID:         c.ConsumerGroup,
		Topics:          topics,
		AutoOffsetReset: "earliest",
	}
}
