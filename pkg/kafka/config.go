package kafka

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultProducerMaxAttempts  = 3
	DefaultProducerBatchTimeout = 10 * time.Millisecond

	DefaultConsumerMinBytes       = 1
	DefaultConsumerMaxBytes       = 10 * 1024 * 1024 // 10MB
	DefaultConsumerMaxWait        = 500 * time.Millisecond
	DefaultConsumerCommitInterval = time.Second
	DefaultConsumerMaxRetries     = 3
)

// Config holds the broker settings shared by producers and consumers.
type Config struct {
	Brokers []string

	ProducerMaxAttempts  int
	ProducerBatchTimeout time.Duration

	// ConsumerStartOffset is kafka.LastOffset or kafka.FirstOffset.
	ConsumerStartOffset    int64
	ConsumerMinBytes       int
	ConsumerMaxBytes       int
	ConsumerMaxWait        time.Duration
	ConsumerCommitInterval time.Duration
	ConsumerMaxRetries     int
}

// NewConfig returns defaults for brokers. Consumers start at the newest offset.
func NewConfig(brokers []string) *Config {
	return &Config{
		Brokers:                brokers,
		ProducerMaxAttempts:    DefaultProducerMaxAttempts,
		ProducerBatchTimeout:   DefaultProducerBatchTimeout,
		ConsumerStartOffset:    kafka.LastOffset,
		ConsumerMinBytes:       DefaultConsumerMinBytes,
		ConsumerMaxBytes:       DefaultConsumerMaxBytes,
		ConsumerMaxWait:        DefaultConsumerMaxWait,
		ConsumerCommitInterval: DefaultConsumerCommitInterval,
		ConsumerMaxRetries:     DefaultConsumerMaxRetries,
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	return nil
}
