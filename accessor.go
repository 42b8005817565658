package zipkinz

import "context"

// contextKeyType is a private type for context keys to avoid collisions.
type contextKeyType string

const spanContextKey contextKeyType = "zipkinz.span"

// Accessor stores the current SpanContext for the duration of a request.
// Adapters backed by other request-scoped storage implement it themselves.
type Accessor interface {
	Save(ctx context.Context, sc SpanContext) context.Context
	Load(ctx context.Context) (SpanContext, bool)
}

// ContextAccessor keeps the SpanContext in a context.Context value.
type ContextAccessor struct{}

// Save returns a child of ctx carrying sc.
func (ContextAccessor) Save(ctx context.Context, sc SpanContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, spanContextKey, sc)
}

// Load returns the SpanContext saved in ctx, if any.
func (ContextAccessor) Load(ctx context.Context) (SpanContext, bool) {
	if ctx == nil {
		return SpanContext{}, false
	}
	sc, ok := ctx.Value(spanContextKey).(SpanContext)
	return sc, ok
}

// FromContext returns the SpanContext saved by the default accessor.
func FromContext(ctx context.Context) (SpanContext, bool) {
	return ContextAccessor{}.Load(ctx)
}

// WithSpanContext saves sc using the default accessor.
func WithSpanContext(ctx context.Context, sc SpanContext) context.Context {
	return ContextAccessor{}.Save(ctx, sc)
}
