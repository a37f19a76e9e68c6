package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink publishes analytics events to a Kafka topic, keyed by subject
// id so that a subject's event stream lands on one partition in order.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// KafkaSinkConfig contains configuration options for KafkaSink.
type KafkaSinkConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	RetryMax     int
}

// DefaultKafkaSinkConfig returns settings tuned for a high-volume event
// stream: small batches, short timeouts, leader-only acks.
func DefaultKafkaSinkConfig() *KafkaSinkConfig {
	return &KafkaSinkConfig{
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: 1 * time.Second,
		RequiredAcks: 1,
		RetryMax:     3,
	}
}

// NewKafkaSink creates a Kafka-backed sink with default configuration.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	return NewKafkaSinkWithConfig(brokers, topic, logger, DefaultKafkaSinkConfig())
}

// NewKafkaSinkWithConfig creates a Kafka-backed sink with custom configuration.
func NewKafkaSinkWithConfig(brokers []string, topic string, logger *zap.Logger, config *KafkaSinkConfig) *KafkaSink {
	if config == nil {
		config = DefaultKafkaSinkConfig()
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    config.BatchSize,
			BatchTimeout: config.BatchTimeout,
			WriteTimeout: config.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
			MaxAttempts:  config.RetryMax,
			Compression:  kafka.Snappy,
		},
		logger: logger,
	}
}

// Emit publishes the event as a JSON message.
func (s *KafkaSink) Emit(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("kafka sink is closed")
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.SubjectID),
		Value: value,
		Time:  ev.Timestamp,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		s.logger.Error("Failed to close kafka writer", zap.Error(err))
		return err
	}
	return nil
}
