package senders

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultKafkaTopic is the topic the Zipkin collector consumes by default.
const DefaultKafkaTopic = "zipkin"

// KafkaWriter is the subset of *kafka.Writer used by KafkaSender.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes each span batch as one Kafka message.
type KafkaSender struct {
	writer KafkaWriter
}

// NewKafkaSender creates a sender writing to topic on brokers.
// An empty topic uses DefaultKafkaTopic.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		topic = DefaultKafkaTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaSender{writer: writer}, nil
}

// NewKafkaSenderWithWriter wraps a preconfigured writer.
func NewKafkaSenderWithWriter(w KafkaWriter) (*KafkaSender, error) {
	if w == nil {
		return nil, ErrNilWriter
	}
	return &KafkaSender{writer: w}, nil
}

// Send writes body as a single message.
func (s *KafkaSender) Send(ctx context.Context, body []byte) error {
	if err := s.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		return fmt.Errorf("failed to write spans to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
