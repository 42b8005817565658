package senders

import (
	"context"
	"fmt"
	"io"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultAMQPQueue is the queue the Zipkin collector consumes by default.
const DefaultAMQPQueue = "zipkin"

// AMQPPublisher is the subset of *amqp.Channel used by AMQPSender.
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSender publishes each span batch as one RabbitMQ message.
type AMQPSender struct {
	channel  AMQPPublisher
	closers  []io.Closer
	exchange string
	key      string
}

// NewAMQPSender publishes through channel. An empty routingKey uses
// DefaultAMQPQueue on the default exchange.
func NewAMQPSender(channel AMQPPublisher, exchange, routingKey string) (*AMQPSender, error) {
	if channel == nil {
		return nil, ErrNilChannel
	}
	if routingKey == "" {
		routingKey = DefaultAMQPQueue
	}
	s := &AMQPSender{channel: channel, exchange: exchange, key: routingKey}
	if c, ok := channel.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	return s, nil
}

// DialAMQP connects to url and returns a sender that owns the connection.
func DialAMQP(url, exchange, routingKey string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	s, err := NewAMQPSender(ch, exchange, routingKey)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.closers = append(s.closers, conn)
	return s, nil
}

// Send publishes body.
func (s *AMQPSender) Send(ctx context.Context, body []byte) error {
	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}
	if err := s.channel.PublishWithContext(ctx, s.exchange, s.key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish spans: %w", err)
	}
	return nil
}

// Close closes the channel and, for DialAMQP senders, the connection.
func (s *AMQPSender) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
