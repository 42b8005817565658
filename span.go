package zipkinz

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Kind describes the role of a span in an RPC or messaging exchange.
type Kind string

// Span kinds. The zero value is unspecified.
const (
	KindUnspecified Kind = ""
	KindClient      Kind = "CLIENT"
	KindServer      Kind = "SERVER"
	KindProducer    Kind = "PRODUCER"
	KindConsumer    Kind = "CONSUMER"
)

// Endpoint describes a host taking part in a span.
type Endpoint struct {
	ServiceName string
	IPv4        string
	IPv6        string
	Port        int
}

// Annotation records a timestamped event inside a span.
type Annotation struct {
	Timestamp time.Time
	Value     string
}

// Span is a finished unit of work. Spans returned by Build are deep copies
// and are never touched again by the builder.
//
//nolint:govet // Field order follows the wire format.
type Span struct {
	TraceID        string
	ID             string
	ParentID       string
	Debug          bool
	Sampled        Decision
	Name           string
	Kind           Kind
	Timestamp      time.Time
	Duration       time.Duration
	LocalEndpoint  *Endpoint
	RemoteEndpoint *Endpoint
	Tags           map[Tag]string
	Annotations    []Annotation
}

// Context returns the span's identity as a SpanContext.
func (s Span) Context() SpanContext {
	return SpanContext{
		TraceID:  s.TraceID,
		ID:       s.ID,
		ParentID: s.ParentID,
		Debug:    s.Debug,
		Sampled:  s.Sampled,
	}
}

// clone deep copies the mutable parts of s.
func (s Span) clone() Span {
	if s.Tags != nil {
		tags := make(map[Tag]string, len(s.Tags))
		for k, v := range s.Tags {
			tags[k] = v
		}
		s.Tags = tags
	}
	if s.Annotations != nil {
		s.Annotations = append([]Annotation(nil), s.Annotations...)
	}
	if s.LocalEndpoint != nil {
		ep := *s.LocalEndpoint
		s.LocalEndpoint = &ep
	}
	if s.RemoteEndpoint != nil {
		ep := *s.RemoteEndpoint
		s.RemoteEndpoint = &ep
	}
	return s
}

// SpanBuilder accumulates a span between Start and End.
// Safe for concurrent use by multiple goroutines.
type SpanBuilder struct {
	span    Span
	clock   clockz.Clock
	endTime time.Time
	mu      sync.Mutex
}

// NewSpanBuilder creates a builder for the span identified by sc.
// A nil clock uses the real clock.
func NewSpanBuilder(sc SpanContext, clock clockz.Clock) *SpanBuilder {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &SpanBuilder{
		span: Span{
			TraceID:  sc.TraceID,
			ID:       sc.ID,
			ParentID: sc.ParentID,
			Debug:    sc.Debug,
			Sampled:  sc.Sampled,
		},
		clock: clock,
	}
}

// Context returns the identity of the span being built.
func (b *SpanBuilder) Context() SpanContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.span.Context()
}

// Start records the start time. Calling Start again resets the timer and
// clears any recorded end time.
func (b *SpanBuilder) Start() *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.span.Timestamp = b.clock.Now()
	b.endTime = time.Time{}
	return b
}

// End records the end time. End without Start leaves the builder unusable;
// Build reports it as ErrSpanNotStarted.
func (b *SpanBuilder) End() *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endTime = b.clock.Now()
	return b
}

// Name sets the logical operation name.
func (b *SpanBuilder) Name(name string) *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.span.Name = name
	return b
}

// Kind sets the span kind.
func (b *SpanBuilder) Kind(kind Kind) *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.span.Kind = kind
	return b
}

// Tag sets a tag; a repeated key overwrites the earlier value.
func (b *SpanBuilder) Tag(key Tag, value string) *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.span.Tags == nil {
		b.span.Tags = make(map[Tag]string)
	}
	b.span.Tags[key] = value
	return b
}

// Error tags the span with the failure message.
func (b *SpanBuilder) Error(msg string) *SpanBuilder {
	return b.Tag(TagError, msg)
}

// Annotate records an event at the current time.
func (b *SpanBuilder) Annotate(value string) *SpanBuilder {
	return b.AnnotateAt(b.clock.Now(), value)
}

// AnnotateAt records an event at t.
func (b *SpanBuilder) AnnotateAt(t time.Time, value string) *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.span.Annotations = append(b.span.Annotations, Annotation{Timestamp: t, Value: value})
	return b
}

// WithLocalEndpoint sets the host recording the span.
func (b *SpanBuilder) WithLocalEndpoint(ep Endpoint) *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.span.LocalEndpoint = &ep
	return b
}

// WithRemoteEndpoint sets the other side of the connection.
func (b *SpanBuilder) WithRemoteEndpoint(ep Endpoint) *SpanBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.span.RemoteEndpoint = &ep
	return b
}

// Build returns the finished span. The builder may still be mutated
// afterwards without affecting the returned value.
func (b *SpanBuilder) Build() (Span, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.span.Timestamp.IsZero() {
		return Span{}, ErrSpanNotStarted
	}
	if b.endTime.IsZero() {
		return Span{}, ErrSpanNotEnded
	}

	span := b.span.clone()
	span.Duration = b.endTime.Sub(span.Timestamp)
	if span.Duration < 0 {
		span.Duration = 0
	}
	return span, nil
}
