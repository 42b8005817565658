package zipkinz

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Option configures a Tracer.
type Option func(*Tracer)

// WithAccessor replaces the context.Context backed accessor.
func WithAccessor(a Accessor) Option {
	return func(t *Tracer) {
		if a != nil {
			t.accessor = a
		}
	}
}

// WithClock injects the clock used for span timestamps.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger for dropped spans and builder misuse.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithIDPoolSize sets how many ids are generated ahead of time.
func WithIDPoolSize(n int) Option {
	return func(t *Tracer) {
		if n > 0 {
			t.poolSize = n
		}
	}
}

// Tracer creates server, client and local spans for one service.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	sampler    Sampler
	dispatcher SpanDispatcher
	accessor   Accessor
	clock      clockz.Clock
	logger     *zap.Logger
	local      Endpoint
	idPool     *IDPool
	poolSize   int
	idPoolOnce sync.Once
}

// New creates a tracer for the service named localService.
func New(localService string, sampler Sampler, dispatcher SpanDispatcher, opts ...Option) (*Tracer, error) {
	if sampler == nil {
		return nil, ErrNilSampler
	}
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	t := &Tracer{
		sampler:    sampler,
		dispatcher: dispatcher,
		accessor:   ContextAccessor{},
		clock:      clockz.RealClock,
		logger:     zap.NewNop(),
		local:      Endpoint{ServiceName: localService},
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize: runtime.NumCPU() * 100,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// nextID draws from the lazily started id pool.
func (t *Tracer) nextID() string {
	t.idPoolOnce.Do(func() {
		t.idPool = NewIDPool(t.poolSize, generateID)
	})
	if t.idPool == nil {
		// Closed before first use.
		return generateID()
	}
	return t.idPool.Get()
}

// LocalEndpoint returns the endpoint stamped on server and local spans.
func (t *Tracer) LocalEndpoint() Endpoint { return t.local }

// Accessor returns the accessor holding the current SpanContext.
func (t *Tracer) Accessor() Accessor { return t.accessor }

// Current returns the SpanContext saved in ctx.
func (t *Tracer) Current(ctx context.Context) (SpanContext, bool) {
	return t.accessor.Load(ctx)
}

// resolve commits the sampling verdict. A panicking sampler is treated as
// rejecting the trace so tracing never breaks the request.
func (t *Tracer) resolve(sc SpanContext) (out SpanContext) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("sampler panic", zap.Any("panic", r), zap.String("trace_id", sc.TraceID))
			sc.Sampled = Deny
			out = sc
		}
	}()
	return Resolve(t.sampler, sc)
}

// StartServer begins a server span for an inbound request whose headers are
// in carrier. The request joins the upstream trace if one was propagated,
// otherwise a new trace starts. The returned context carries the span's
// SpanContext for downstream calls.
func (t *Tracer) StartServer(ctx context.Context, carrier Carrier, name string) (context.Context, *SpanBuilder) {
	var sc SpanContext
	if upstream, ok := Extract(carrier); ok {
		sc = upstream.child(t.nextID)
	} else {
		sc = newRoot(t.nextID)
		sc.Debug = upstream.Debug
		sc.Sampled = upstream.Sampled
	}
	sc = t.resolve(sc)

	b := NewSpanBuilder(sc, t.clock).
		Name(name).
		Kind(KindServer).
		WithLocalEndpoint(t.local).
		Start()
	return t.accessor.Save(ctx, sc), b
}

// StartClient begins a client span for an outbound call and writes its B3
// headers into carrier. remoteService names the callee; empty leaves the
// remote endpoint unset.
func (t *Tracer) StartClient(ctx context.Context, carrier Carrier, name, remoteService string) (context.Context, *SpanBuilder) {
	sc := t.derive(ctx)
	Encode(sc, carrier)

	b := NewSpanBuilder(sc, t.clock).
		Name(name).
		Kind(KindClient).
		WithLocalEndpoint(t.local)
	if remoteService != "" {
		b.WithRemoteEndpoint(Endpoint{ServiceName: remoteService})
	}
	b.Start()
	return t.accessor.Save(ctx, sc), b
}

// StartLocal begins an in-process span as a child of the current one.
func (t *Tracer) StartLocal(ctx context.Context, name string) (context.Context, *SpanBuilder) {
	sc := t.derive(ctx)
	b := NewSpanBuilder(sc, t.clock).
		Name(name).
		WithLocalEndpoint(t.local).
		Start()
	return t.accessor.Save(ctx, sc), b
}

// derive returns a resolved child of the current context, or a new root.
func (t *Tracer) derive(ctx context.Context) SpanContext {
	var sc SpanContext
	if parent, ok := t.accessor.Load(ctx); ok {
		sc = parent.child(t.nextID)
	} else {
		sc = newRoot(t.nextID)
	}
	return t.resolve(sc)
}

// Finish ends and builds the span and dispatches it if its trace is sampled.
// It never blocks on reporting and never fails the caller.
func (t *Tracer) Finish(b *SpanBuilder) DispatchResult {
	if b == nil {
		return NotSampled
	}
	span, err := b.End().Build()
	if err != nil {
		t.logger.Error("span not finished", zap.Error(err))
		return NotSampled
	}
	if !span.Sampled.Sampled() {
		return NotSampled
	}

	result := t.dispatcher.Dispatch(span)
	if result != Dispatched {
		t.logger.Debug("span dropped",
			zap.String("trace_id", span.TraceID),
			zap.String("span_id", span.ID),
			zap.Stringer("result", result),
		)
	}
	return result
}

// Trace runs fn inside a local span. A returned error is recorded as the
// span's error tag and returned unchanged; a panic is recorded and re-raised.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, b := t.StartLocal(ctx, name)
	defer func() {
		if r := recover(); r != nil {
			b.Error(fmt.Sprint(r))
			t.Finish(b)
			panic(r)
		}
		if err != nil {
			b.Error(err.Error())
		}
		t.Finish(b)
	}()
	return fn(ctx)
}

// Close stops the background id generator.
func (t *Tracer) Close() {
	t.idPoolOnce.Do(func() {})
	if t.idPool != nil {
		t.idPool.Close()
	}
}
