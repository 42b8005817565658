package carriers

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// KafkaHeaders adapts the headers of a Kafka message. Lookups ignore case.
type KafkaHeaders struct {
	msg *kafka.Message
}

// NewKafkaHeaders returns a carrier reading and writing msg.Headers.
func NewKafkaHeaders(msg *kafka.Message) KafkaHeaders {
	return KafkaHeaders{msg: msg}
}

// Get returns the value of the first header named key.
func (k KafkaHeaders) Get(key string) string {
	for _, h := range k.msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces the header named key or appends it.
func (k KafkaHeaders) Set(key, value string) {
	for i := range k.msg.Headers {
		if strings.EqualFold(k.msg.Headers[i].Key, key) {
			k.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	k.msg.Headers = append(k.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}
