package zipkinz

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Reporter delivers a batch of finished spans. Implementations are called
// from the dispatcher's loop goroutine and must honour ctx. Each reporter
// owns the spans it is given and may modify them.
type Reporter interface {
	Report(ctx context.Context, spans []Span) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, spans []Span) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, spans []Span) error { return f(ctx, spans) }

// Sender transmits an encoded batch to a collector. Retries, if any, belong here.
type Sender interface {
	Send(ctx context.Context, body []byte) error
	Close() error
}

// wireEndpoint is the collector's endpoint object.
type wireEndpoint struct {
	ServiceName string `json:"serviceName,omitempty"`
	IPv4        string `json:"ipv4,omitempty"`
	IPv6        string `json:"ipv6,omitempty"`
	Port        int    `json:"port,omitempty"`
}

type wireAnnotation struct {
	Timestamp int64  `json:"timestamp"`
	Value     string `json:"value"`
}

// wireSpan is the collector's JSON span object.
type wireSpan struct {
	TraceID        string            `json:"traceId"`
	ID             string            `json:"id"`
	ParentID       string            `json:"parentId,omitempty"`
	Name           string            `json:"name,omitempty"`
	Kind           Kind              `json:"kind,omitempty"`
	Timestamp      int64             `json:"timestamp"`
	Duration       int64             `json:"duration"`
	Debug          bool              `json:"debug,omitempty"`
	LocalEndpoint  *wireEndpoint     `json:"localEndpoint,omitempty"`
	RemoteEndpoint *wireEndpoint     `json:"remoteEndpoint,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Annotations    []wireAnnotation  `json:"annotations,omitempty"`
}

func epochMicros(t time.Time) int64 {
	return t.UnixNano() / int64(time.Microsecond)
}

// durationMicros truncates to microseconds; a positive sub-microsecond
// duration is reported as 1 because the collector treats 0 as unknown.
func durationMicros(d time.Duration) int64 {
	us := int64(d / time.Microsecond)
	if us == 0 && d > 0 {
		return 1
	}
	return us
}

func toWireEndpoint(ep *Endpoint) *wireEndpoint {
	if ep == nil {
		return nil
	}
	return &wireEndpoint{
		ServiceName: ep.ServiceName,
		IPv4:        ep.IPv4,
		IPv6:        ep.IPv6,
		Port:        ep.Port,
	}
}

func toWire(s Span) wireSpan {
	w := wireSpan{
		TraceID:        s.TraceID,
		ID:             s.ID,
		ParentID:       s.ParentID,
		Name:           s.Name,
		Kind:           s.Kind,
		Timestamp:      epochMicros(s.Timestamp),
		Duration:       durationMicros(s.Duration),
		Debug:          s.Debug,
		LocalEndpoint:  toWireEndpoint(s.LocalEndpoint),
		RemoteEndpoint: toWireEndpoint(s.RemoteEndpoint),
		Tags:           s.Tags,
	}
	if len(s.Annotations) > 0 {
		w.Annotations = make([]wireAnnotation, len(s.Annotations))
		for i, a := range s.Annotations {
			w.Annotations[i] = wireAnnotation{Timestamp: epochMicros(a.Timestamp), Value: a.Value}
		}
	}
	return w
}

// EncodeSpans renders spans as the collector's JSON array.
func EncodeSpans(spans []Span) ([]byte, error) {
	wire := make([]wireSpan, len(spans))
	for i := range spans {
		wire[i] = toWire(spans[i])
	}
	return sonic.ConfigStd.Marshal(wire)
}

// JSONReporter encodes batches as JSON and hands them to a Sender.
type JSONReporter struct {
	sender Sender
}

// NewJSONReporter creates a reporter writing to sender.
func NewJSONReporter(sender Sender) (*JSONReporter, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	return &JSONReporter{sender: sender}, nil
}

// Report encodes spans and sends them once. Errors are not retried here.
func (r *JSONReporter) Report(ctx context.Context, spans []Span) error {
	if len(spans) == 0 {
		return nil
	}
	body, err := EncodeSpans(spans)
	if err != nil {
		return fmt.Errorf("%w: encode %d spans: %v", ErrReport, len(spans), err)
	}
	if err := r.sender.Send(ctx, body); err != nil {
		return fmt.Errorf("%w: send %d spans: %w", ErrReport, len(spans), err)
	}
	return nil
}

// Close closes the underlying sender.
func (r *JSONReporter) Close() error {
	return r.sender.Close()
}

// LogReporter writes each span to a logger at debug level.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter logging to logger.
func NewLogReporter(logger *zap.Logger) (*LogReporter, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}
	return &LogReporter{logger: logger}, nil
}

// Report logs every span in the batch.
func (r *LogReporter) Report(_ context.Context, spans []Span) error {
	for i := range spans {
		s := &spans[i]
		fields := []zap.Field{
			zap.String("trace_id", s.TraceID),
			zap.String("span_id", s.ID),
			zap.String("name", s.Name),
			zap.String("kind", string(s.Kind)),
			zap.Time("timestamp", s.Timestamp),
			zap.Duration("duration", s.Duration),
		}
		if s.ParentID != "" {
			fields = append(fields, zap.String("parent_id", s.ParentID))
		}
		if len(s.Tags) > 0 {
			fields = append(fields, zap.Any("tags", s.Tags))
		}
		r.logger.Debug("span", fields...)
	}
	return nil
}
