package zipkinz

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// captureDispatcher records dispatched spans synchronously.
type captureDispatcher struct {
	mu     sync.Mutex
	spans  []Span
	result DispatchResult
}

func (d *captureDispatcher) Dispatch(span Span) DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result == Dispatched {
		d.spans = append(d.spans, span)
	}
	return d.result
}

func (d *captureDispatcher) captured() []Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Span(nil), d.spans...)
}

func newTestTracer(t *testing.T, sampler Sampler, opts ...Option) (*Tracer, *captureDispatcher) {
	t.Helper()
	d := &captureDispatcher{}
	tracer, err := New("api", sampler, d, opts...)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(tracer.Close)
	return tracer, d
}

func TestNewTracerValidation(t *testing.T) {
	if _, err := New("api", nil, &captureDispatcher{}); !errors.Is(err, ErrNilSampler) {
		t.Errorf("Expected ErrNilSampler, got %v", err)
	}
	if _, err := New("api", AlwaysSample, nil); !errors.Is(err, ErrNilDispatcher) {
		t.Errorf("Expected ErrNilDispatcher, got %v", err)
	}
}

// An unsampled inbound request with no upstream trace fans out to a client
// call: the outbound headers carry the same trace, the server span as parent
// and an accepted verdict.
func TestRootRequestPropagatesToClient(t *testing.T) {
	sampler, _ := NewRateSampler(1)
	tracer, d := newTestTracer(t, sampler)

	ctx, server := tracer.StartServer(context.Background(), MapCarrier{}, "GET")
	serverCtx := server.Context()

	if !serverCtx.IsRoot() {
		t.Errorf("Expected a root server span, got parent %q", serverCtx.ParentID)
	}
	if serverCtx.Sampled != Accept {
		t.Errorf("Expected Accept, got %v", serverCtx.Sampled)
	}

	outbound := MapCarrier{}
	_, client := tracer.StartClient(ctx, outbound, "GET", "inventory")

	if outbound[HeaderTraceID] != serverCtx.TraceID {
		t.Errorf("Expected outbound trace %s, got %s", serverCtx.TraceID, outbound[HeaderTraceID])
	}
	if outbound[HeaderParentSpanID] != serverCtx.ID {
		t.Errorf("Expected outbound parent %s, got %s", serverCtx.ID, outbound[HeaderParentSpanID])
	}
	if outbound[HeaderSpanID] != client.Context().ID || outbound[HeaderSpanID] == serverCtx.ID {
		t.Errorf("Expected outbound span id to be the client span, got %s", outbound[HeaderSpanID])
	}
	if outbound[HeaderSampled] != "1" {
		t.Errorf("Expected sampled 1, got %q", outbound[HeaderSampled])
	}

	if res := tracer.Finish(client); res != Dispatched {
		t.Errorf("Expected client dispatched, got %v", res)
	}
	if res := tracer.Finish(server); res != Dispatched {
		t.Errorf("Expected server dispatched, got %v", res)
	}

	spans := d.captured()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Kind != KindClient || spans[0].RemoteEndpoint == nil || spans[0].RemoteEndpoint.ServiceName != "inventory" {
		t.Errorf("Unexpected client span %+v", spans[0])
	}
	if spans[1].Kind != KindServer || spans[1].LocalEndpoint.ServiceName != "api" {
		t.Errorf("Unexpected server span %+v", spans[1])
	}
}

// An upstream decision to drop the trace wins over a sampler that would keep it.
func TestUpstreamDenyIsHonoured(t *testing.T) {
	sampler, _ := NewRateSampler(1)
	tracer, d := newTestTracer(t, sampler)

	inbound := MapCarrier{
		HeaderTraceID: "463ac35c9f6413ad",
		HeaderSpanID:  "a2fb4a1d1a96d312",
		HeaderSampled: "0",
	}
	ctx, server := tracer.StartServer(context.Background(), inbound, "GET")

	sc := server.Context()
	if sc.Sampled != Deny {
		t.Errorf("Expected Deny, got %v", sc.Sampled)
	}
	if sc.TraceID != "463ac35c9f6413ad" || sc.ParentID != "a2fb4a1d1a96d312" {
		t.Errorf("Expected to join upstream trace, got %+v", sc)
	}

	outbound := MapCarrier{}
	_, client := tracer.StartClient(ctx, outbound, "GET", "")
	if outbound[HeaderSampled] != "0" {
		t.Errorf("Expected deny propagated downstream, got %q", outbound[HeaderSampled])
	}
	if client.Context().Sampled != Deny {
		t.Errorf("Expected client Deny, got %v", client.Context().Sampled)
	}

	if res := tracer.Finish(client); res != NotSampled {
		t.Errorf("Expected NotSampled, got %v", res)
	}
	if res := tracer.Finish(server); res != NotSampled {
		t.Errorf("Expected NotSampled, got %v", res)
	}
	if len(d.captured()) != 0 {
		t.Errorf("Expected nothing dispatched, got %d", len(d.captured()))
	}
}

func TestUpstreamDenyWithoutSpanID(t *testing.T) {
	sampler, _ := NewRateSampler(1)
	tracer, _ := newTestTracer(t, sampler)

	inbound := MapCarrier{
		HeaderTraceID: "abc1230000000000",
		HeaderSampled: "0",
	}
	_, server := tracer.StartServer(context.Background(), inbound, "GET")

	sc := server.Context()
	if sc.TraceID != "abc1230000000000" {
		t.Errorf("Expected upstream trace id, got %s", sc.TraceID)
	}
	if sc.Sampled != Deny {
		t.Errorf("Expected Deny, got %v", sc.Sampled)
	}
	if !validSpanID(sc.ID) {
		t.Errorf("Expected a fresh span id, got %q", sc.ID)
	}
}

func TestDebugForcesSampling(t *testing.T) {
	tracer, d := newTestTracer(t, NeverSample)

	inbound := MapCarrier{HeaderFlags: "1"}
	_, server := tracer.StartServer(context.Background(), inbound, "GET")

	sc := server.Context()
	if !sc.Debug || sc.Sampled != Accept {
		t.Errorf("Expected debug trace accepted, got %+v", sc)
	}
	tracer.Finish(server)

	spans := d.captured()
	if len(spans) != 1 || !spans[0].Debug {
		t.Errorf("Expected debug span dispatched, got %v", spans)
	}
}

func TestSamplerConsultedOncePerTrace(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	sampler := SamplerFunc(func(string) bool {
		mu.Lock()
		calls++
		mu.Unlock()
		return true
	})
	tracer, _ := newTestTracer(t, sampler)

	ctx, server := tracer.StartServer(context.Background(), MapCarrier{}, "GET")
	for i := 0; i < 3; i++ {
		ctx2, local := tracer.StartLocal(ctx, "step")
		_, client := tracer.StartClient(ctx2, MapCarrier{}, "GET", "db")
		tracer.Finish(client)
		tracer.Finish(local)
	}
	tracer.Finish(server)

	if calls != 1 {
		t.Errorf("Expected one sampling decision per trace, got %d", calls)
	}
}

func TestStartLocalLineage(t *testing.T) {
	tracer, d := newTestTracer(t, AlwaysSample)

	ctx, root := tracer.StartLocal(context.Background(), "job")
	_, child := tracer.StartLocal(ctx, "step")

	if !root.Context().IsRoot() {
		t.Error("Expected local span without parent to start a trace")
	}
	if child.Context().TraceID != root.Context().TraceID || child.Context().ParentID != root.Context().ID {
		t.Errorf("Unexpected lineage: root %+v child %+v", root.Context(), child.Context())
	}

	tracer.Finish(child)
	tracer.Finish(root)
	spans := d.captured()
	if len(spans) != 2 || spans[0].Kind != KindUnspecified {
		t.Errorf("Expected 2 unspecified-kind spans, got %v", spans)
	}
}

func TestStartServerWithHTTPHeaders(t *testing.T) {
	tracer, _ := newTestTracer(t, AlwaysSample)

	header := http.Header{}
	header.Set("x-b3-traceid", "463ac35c9f6413ad48485a3953bb6124")
	header.Set("x-b3-spanid", "a2fb4a1d1a96d312")
	header.Set("x-b3-sampled", "1")

	ctx, server := tracer.StartServer(context.Background(), HTTPHeaderCarrier(header), "GET")
	if server.Context().TraceID != "463ac35c9f6413ad48485a3953bb6124" {
		t.Errorf("Expected 128-bit trace id kept, got %s", server.Context().TraceID)
	}

	current, ok := tracer.Current(ctx)
	if !ok || current != server.Context() {
		t.Errorf("Expected server context saved, got %+v (%v)", current, ok)
	}
}

func TestFinishUnbuiltSpan(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	tracer, d := newTestTracer(t, AlwaysSample, WithLogger(zap.New(core)))

	b := NewSpanBuilder(Resolve(AlwaysSample, NewRoot()), nil)
	if res := tracer.Finish(b); res != NotSampled {
		t.Errorf("Expected NotSampled for a span never started, got %v", res)
	}
	if logs.FilterMessage("span not finished").Len() != 1 {
		t.Error("Expected misuse to be logged")
	}
	if res := tracer.Finish(nil); res != NotSampled {
		t.Errorf("Expected NotSampled for nil builder, got %v", res)
	}
	if len(d.captured()) != 0 {
		t.Error("Expected nothing dispatched")
	}
}

func TestFinishReportsDrop(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := &captureDispatcher{result: DroppedFull}
	tracer, err := New("api", AlwaysSample, d, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer tracer.Close()

	_, b := tracer.StartLocal(context.Background(), "work")
	if res := tracer.Finish(b); res != DroppedFull {
		t.Errorf("Expected DroppedFull, got %v", res)
	}
	if logs.FilterMessage("span dropped").Len() != 1 {
		t.Error("Expected drop to be logged")
	}
}

func TestSamplerPanicDeniesTrace(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sampler := SamplerFunc(func(string) bool { panic("bad sampler") })
	tracer, d := newTestTracer(t, sampler, WithLogger(zap.New(core)))

	_, b := tracer.StartServer(context.Background(), MapCarrier{}, "GET")
	if b.Context().Sampled != Deny {
		t.Errorf("Expected Deny after sampler panic, got %v", b.Context().Sampled)
	}
	tracer.Finish(b)

	if logs.FilterMessage("sampler panic").Len() != 1 {
		t.Error("Expected sampler panic to be logged")
	}
	if len(d.captured()) != 0 {
		t.Error("Expected nothing dispatched")
	}
}

func TestTraceRecordsError(t *testing.T) {
	tracer, d := newTestTracer(t, AlwaysSample)
	cause := errors.New("query failed")

	err := tracer.Trace(context.Background(), "query", func(ctx context.Context) error {
		if _, ok := FromContext(ctx); !ok {
			t.Error("Expected span context inside fn")
		}
		return cause
	})
	if !errors.Is(err, cause) {
		t.Errorf("Expected error returned unchanged, got %v", err)
	}

	spans := d.captured()
	if len(spans) != 1 || spans[0].Tags[TagError] != "query failed" {
		t.Errorf("Expected error tag, got %v", spans)
	}
}

func TestTraceRecordsPanic(t *testing.T) {
	tracer, d := newTestTracer(t, AlwaysSample)

	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("Expected panic to be re-raised, got %v", r)
		}
		spans := d.captured()
		if len(spans) != 1 || spans[0].Tags[TagError] != "boom" {
			t.Errorf("Expected panicking span dispatched with error tag, got %v", spans)
		}
	}()

	_ = tracer.Trace(context.Background(), "explode", func(context.Context) error {
		panic("boom")
	})
}

func TestTracerWithFakeClock(t *testing.T) {
	clock := clockz.NewFakeClock()
	tracer, d := newTestTracer(t, AlwaysSample, WithClock(clock))

	_, b := tracer.StartLocal(context.Background(), "timed")
	clock.Advance(250 * time.Millisecond)
	tracer.Finish(b)

	spans := d.captured()
	if len(spans) != 1 || spans[0].Duration != 250*time.Millisecond {
		t.Errorf("Expected 250ms span, got %v", spans)
	}
}

func TestTracerIDPoolSpanIDs(t *testing.T) {
	tracer, _ := newTestTracer(t, AlwaysSample, WithIDPoolSize(4))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		_, b := tracer.StartLocal(context.Background(), "op")
		id := b.Context().ID
		if !validSpanID(id) {
			t.Fatalf("Invalid span id %q", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate span id %s", id)
		}
		seen[id] = true
	}

	tracer.Close()
	// Still usable after Close, without the pool.
	_, b := tracer.StartLocal(context.Background(), "late")
	if !validSpanID(b.Context().ID) {
		t.Errorf("Expected generated id after close, got %q", b.Context().ID)
	}
}

func TestConcurrentTracing(t *testing.T) {
	tracer, d := newTestTracer(t, AlwaysSample)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, server := tracer.StartServer(context.Background(), MapCarrier{}, "GET")
			for j := 0; j < 5; j++ {
				_ = tracer.Trace(ctx, "step", func(context.Context) error { return nil })
			}
			tracer.Finish(server)
		}()
	}
	wg.Wait()

	spans := d.captured()
	if len(spans) != 120 {
		t.Fatalf("Expected 120 spans, got %d", len(spans))
	}

	parents := make(map[string]string)
	for _, s := range spans {
		if s.Kind == KindServer {
			parents[s.ID] = s.TraceID
		}
	}
	for _, s := range spans {
		if s.Kind == KindServer {
			continue
		}
		if trace, ok := parents[s.ParentID]; !ok || trace != s.TraceID {
			t.Errorf("Span %s lost its server parent", s.ID)
		}
	}
}

func TestContextAccessor(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("Expected no span context in a bare context")
	}

	sc := NewRoot()
	ctx := WithSpanContext(context.Background(), sc)
	got, ok := FromContext(ctx)
	if !ok || got != sc {
		t.Errorf("Expected %+v, got %+v", sc, got)
	}

	//nolint:staticcheck // nil context is tolerated by the accessor
	if _, ok := (ContextAccessor{}).Load(nil); ok {
		t.Error("Expected nil context to hold nothing")
	}
}

// mapAccessor stores contexts outside context.Context, keyed by a request id.
type mapAccessor struct {
	mu    sync.Mutex
	saved map[string]SpanContext
}

type requestKey struct{}

func (a *mapAccessor) Save(ctx context.Context, sc SpanContext) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[ctx.Value(requestKey{}).(string)] = sc
	return ctx
}

func (a *mapAccessor) Load(ctx context.Context) (SpanContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sc, ok := a.saved[ctx.Value(requestKey{}).(string)]
	return sc, ok
}

func TestCustomAccessor(t *testing.T) {
	acc := &mapAccessor{saved: make(map[string]SpanContext)}
	tracer, _ := newTestTracer(t, AlwaysSample, WithAccessor(acc))

	ctx := context.WithValue(context.Background(), requestKey{}, "req-1")
	ctx, server := tracer.StartServer(ctx, MapCarrier{}, "GET")
	_, client := tracer.StartClient(ctx, MapCarrier{}, "GET", "db")

	if client.Context().ParentID != server.Context().ID {
		t.Errorf("Expected custom accessor to carry the parent, got %+v", client.Context())
	}
	if tracer.Accessor() != Accessor(acc) {
		t.Error("Expected custom accessor to be installed")
	}
}
