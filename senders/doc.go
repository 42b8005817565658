// Package senders provides zipkinz.Sender implementations that deliver
// encoded span batches to a Zipkin collector over HTTP, Kafka or RabbitMQ.
//
// Each sender makes exactly one delivery attempt per Send from the
// dispatcher's point of view. The HTTP sender layers its own retries with
// backoff underneath that attempt; the broker senders rely on the client
// library's delivery guarantees.
package senders

import "errors"

// Sender errors.
var (
	ErrEmptyURL         = errors.New("collector url is empty")
	ErrNoBrokers        = errors.New("at least one broker is required")
	ErrEmptyTopic       = errors.New("topic is empty")
	ErrNilChannel       = errors.New("amqp channel is nil")
	ErrNilWriter        = errors.New("kafka writer is nil")
	ErrUnexpectedStatus = errors.New("unexpected collector status")
)
