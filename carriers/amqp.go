package carriers

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTable adapts RabbitMQ message headers.
type AMQPTable amqp.Table

// Get returns the header as a string. Byte slices are converted;
// other value types are treated as absent.
func (t AMQPTable) Get(key string) string {
	switch v := t[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Set stores value under key.
func (t AMQPTable) Set(key, value string) {
	t[key] = value
}
