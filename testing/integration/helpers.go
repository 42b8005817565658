package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/zipkinz"
)

// MockReporter records every reported span.
// Provides waiting and verification helpers on top of the Reporter interface.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockReporter struct {
	spans   []zipkinz.Span
	batches int
	t       *testing.T
	mu      sync.Mutex
}

// NewMockReporter creates a reporter for testing.
func NewMockReporter(t *testing.T) *MockReporter {
	return &MockReporter{t: t}
}

// Report implements zipkinz.Reporter.
func (m *MockReporter) Report(_ context.Context, spans []zipkinz.Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, spans...)
	m.batches++
	return nil
}

// GetAll returns a copy of every span reported so far.
func (m *MockReporter) GetAll() []zipkinz.Span {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]zipkinz.Span, len(m.spans))
	copy(all, m.spans)
	return all
}

// Batches returns how many Report calls were made.
func (m *MockReporter) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// WaitForSpans waits for expected number of spans with timeout.
func (m *MockReporter) WaitForSpans(expected int, timeout time.Duration) []zipkinz.Span {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if spans := m.GetAll(); len(spans) >= expected {
			return spans
		}
		<-ticker.C
	}

	spans := m.GetAll()
	m.t.Errorf("Timeout waiting for spans: expected %d, got %d", expected, len(spans))
	return spans
}

// AssertSpanNamed returns the first span with the given name.
func (m *MockReporter) AssertSpanNamed(name string) *zipkinz.Span {
	spans := m.GetAll()
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	m.t.Errorf("Span named '%s' not found", name)
	return nil
}

// Pipeline is a dispatcher feeding a MockReporter.
type Pipeline struct {
	Dispatcher *zipkinz.Dispatcher
	Reporter   *MockReporter
}

// NewPipeline creates a dispatcher with a short flush interval for tests.
// The dispatcher is closed when the test finishes.
func NewPipeline(t *testing.T, opts ...zipkinz.DispatcherOption) *Pipeline {
	t.Helper()
	reporter := NewMockReporter(t)
	opts = append([]zipkinz.DispatcherOption{zipkinz.WithFlushInterval(10 * time.Millisecond)}, opts...)
	d, err := zipkinz.NewDispatcher([]zipkinz.Reporter{reporter}, opts...)
	if err != nil {
		t.Fatalf("Failed to create dispatcher: %v", err)
	}
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return &Pipeline{Dispatcher: d, Reporter: reporter}
}

// Flush reports everything buffered so far.
func (p *Pipeline) Flush(t *testing.T) []zipkinz.Span {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Dispatcher.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return p.Reporter.GetAll()
}

// NewTracer creates a tracer for service reporting into p.
func (p *Pipeline) NewTracer(t *testing.T, service string, sampler zipkinz.Sampler) *zipkinz.Tracer {
	t.Helper()
	tracer, err := zipkinz.New(service, sampler, p.Dispatcher)
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}
	t.Cleanup(tracer.Close)
	return tracer
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     zipkinz.Span
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from flat span list.
func BuildSpanTree(spans []zipkinz.Span) []*SpanTree {
	nodeMap := make(map[string]*SpanTree)
	roots := make([]*SpanTree, 0)

	for i := range spans {
		nodeMap[spans[i].ID] = &SpanTree{Span: spans[i]}
	}

	for i := range spans {
		node := nodeMap[spans[i].ID]
		if spans[i].ParentID == "" {
			roots = append(roots, node)
		} else if parent, exists := nodeMap[spans[i].ParentID]; exists {
			parent.Children = append(parent.Children, node)
		}
	}

	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s %s [%s] (%.2fms)\n",
		indent, node.Span.LocalEndpoint.ServiceName, node.Span.Name, node.Span.Kind,
		node.Span.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// MockService is an HTTP service that traces inbound requests and calls
// its downstream services with B3 headers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockService struct {
	Name       string
	Server     *httptest.Server
	tracer     *zipkinz.Tracer
	downstream []*MockService
	latency    time.Duration
	fail       bool
	mu         sync.Mutex
	requests   int
	inbound    []http.Header
}

// NewMockService starts an HTTP service traced by tracer.
func NewMockService(t *testing.T, name string, tracer *zipkinz.Tracer) *MockService {
	t.Helper()
	m := &MockService{Name: name, tracer: tracer}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

// Calls adds downstream services invoked on every request.
func (m *MockService) Calls(services ...*MockService) *MockService {
	m.downstream = append(m.downstream, services...)
	return m
}

// SetLatency configures local processing time.
func (m *MockService) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetFailing makes every request fail with 500.
func (m *MockService) SetFailing(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

// Requests returns how many requests the service handled.
func (m *MockService) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// InboundHeaders returns the headers of every request received.
func (m *MockService) InboundHeaders() []http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]http.Header(nil), m.inbound...)
}

func (m *MockService) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	m.inbound = append(m.inbound, r.Header.Clone())
	latency, fail := m.latency, m.fail
	m.mu.Unlock()

	ctx, span := m.tracer.StartServer(r.Context(), zipkinz.HTTPHeaderCarrier(r.Header), r.Method)
	span.Tag(zipkinz.TagPath, r.URL.Path)
	defer m.tracer.Finish(span)

	time.Sleep(latency)

	for _, ds := range m.downstream {
		if err := Call(ctx, m.tracer, ds, "/"+ds.Name); err != nil {
			span.Error(err.Error())
		}
	}

	if fail {
		span.Error("simulated failure")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Call performs a traced GET against target.
func Call(ctx context.Context, tracer *zipkinz.Tracer, target *MockService, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Server.URL+path, http.NoBody)
	if err != nil {
		return err
	}
	_, span := tracer.StartClient(ctx, zipkinz.HTTPHeaderCarrier(req.Header), http.MethodGet, target.Name)
	span.Tag(zipkinz.TagURL, req.URL.String())
	defer tracer.Finish(span)

	resp, err := target.Server.Client().Do(req)
	if err != nil {
		span.Error(err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("%s: status %d", target.Name, resp.StatusCode)
		span.Error(err.Error())
		return err
	}
	return nil
}

// TraceAnalyzer provides advanced trace analysis.
type TraceAnalyzer struct {
	spans  []zipkinz.Span
	byID   map[string]zipkinz.Span
	trees  []*SpanTree
	traces map[string][]zipkinz.Span
}

// NewTraceAnalyzer creates an analyzer for span collection.
func NewTraceAnalyzer(spans []zipkinz.Span) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byID:   make(map[string]zipkinz.Span, len(spans)),
		trees:  BuildSpanTree(spans),
		traces: make(map[string][]zipkinz.Span),
	}
	for _, s := range spans {
		a.byID[s.ID] = s
		a.traces[s.TraceID] = append(a.traces[s.TraceID], s)
	}
	return a
}

// CountTraces returns the number of distinct trace ids.
func (a *TraceAnalyzer) CountTraces() int {
	return len(a.traces)
}

// CountTrees returns the number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// Trees returns the span trees.
func (a *TraceAnalyzer) Trees() []*SpanTree {
	return a.trees
}

// SpansOfKind returns the spans with the given kind.
func (a *TraceAnalyzer) SpansOfKind(kind zipkinz.Kind) []zipkinz.Span {
	var out []zipkinz.Span
	for _, s := range a.spans {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// VerifyLineage checks every non-root span has a known parent in its trace.
func (a *TraceAnalyzer) VerifyLineage() error {
	for _, s := range a.spans {
		if s.ParentID == "" {
			continue
		}
		parent, ok := a.byID[s.ParentID]
		if !ok {
			return fmt.Errorf("span %s (%s): parent %s missing", s.ID, s.Name, s.ParentID)
		}
		if parent.TraceID != s.TraceID {
			return fmt.Errorf("span %s: trace %s differs from parent trace %s", s.ID, s.TraceID, parent.TraceID)
		}
	}
	return nil
}

// VerifyClientServerPairs checks every server span with a parent is the
// child of a client span in a different service.
func (a *TraceAnalyzer) VerifyClientServerPairs() error {
	for _, s := range a.SpansOfKind(zipkinz.KindServer) {
		if s.ParentID == "" {
			continue
		}
		client, ok := a.byID[s.ParentID]
		if !ok || client.Kind != zipkinz.KindClient {
			return fmt.Errorf("server span %s: parent %s is not a client span", s.ID, s.ParentID)
		}
		if client.RemoteEndpoint == nil || client.RemoteEndpoint.ServiceName != s.LocalEndpoint.ServiceName {
			return fmt.Errorf("client span %s does not name server %s", client.ID, s.LocalEndpoint.ServiceName)
		}
	}
	return nil
}
