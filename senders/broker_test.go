package senders

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaSenderValidation(t *testing.T) {
	_, err := NewKafkaSender(nil, "spans")
	assert.ErrorIs(t, err, ErrNoBrokers)

	_, err = NewKafkaSenderWithWriter(nil)
	assert.ErrorIs(t, err, ErrNilWriter)

	s, err := NewKafkaSender([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	w, ok := s.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, DefaultKafkaTopic, w.Topic)
}

func TestKafkaSenderSend(t *testing.T) {
	w := &fakeWriter{}
	s, err := NewKafkaSenderWithWriter(w)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), []byte(`[1]`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte(`[1]`), w.msgs[0].Value)

	w.err = errors.New("broker down")
	assert.ErrorIs(t, s.Send(context.Background(), nil), w.err)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

type fakePublisher struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
	closed        bool
}

func (p *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestAMQPSender(t *testing.T) {
	_, err := NewAMQPSender(nil, "", "")
	assert.ErrorIs(t, err, ErrNilChannel)

	p := &fakePublisher{}
	s, err := NewAMQPSender(p, "", "")
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), []byte(`[]`)))
	assert.Equal(t, "", p.exchange)
	assert.Equal(t, DefaultAMQPQueue, p.key)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, []byte(`[]`), p.msg.Body)

	p.err = errors.New("channel closed")
	assert.ErrorIs(t, s.Send(context.Background(), nil), p.err)

	require.NoError(t, s.Close())
	assert.True(t, p.closed)
}
