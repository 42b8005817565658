// Package zipkinz provides a small Zipkin-compatible tracing core.
//
// zipkinz covers the parts of distributed tracing that every adapter needs
// and nothing else: span identity and derivation, B3 header propagation,
// sampling, span building, and an asynchronous batching pipeline that hands
// finished spans to reporters without blocking request goroutines.
//
// Core Components:
//   - SpanContext: Trace and span identifiers plus sampling flags.
//   - Carrier: Generic header bag used by the B3 codec.
//   - Sampler: Decides once per trace whether spans are reported.
//   - SpanBuilder: Accumulates a span between Start and End.
//   - Dispatcher: Buffers finished spans and reports them in batches.
//   - Reporter: Encodes a batch and hands it to a Sender.
//   - Tracer: Binds the pieces together for server, client and local spans.
//
// Basic Usage:
//
//	sampler, _ := zipkinz.NewRateSampler(0.25)
//	reporter, _ := zipkinz.NewJSONReporter(sender)
//	dispatcher, _ := zipkinz.NewDispatcher([]zipkinz.Reporter{reporter})
//	defer dispatcher.Close(ctx)
//
//	tracer, _ := zipkinz.New("orders", sampler, dispatcher)
//	defer tracer.Close()
//
//	// Inbound request.
//	ctx, span := tracer.StartServer(ctx, zipkinz.MapCarrier(headers), "GET")
//	defer tracer.Finish(span)
//
//	// Outbound call.
//	out := zipkinz.MapCarrier{}
//	_, client := tracer.StartClient(ctx, out, "GET", "inventory")
//	defer tracer.Finish(client)
//
// Thread Safety:
//
// SpanContext is a value type and safe to copy and derive from concurrently.
// SpanBuilder, Dispatcher and Tracer are safe for concurrent use.
//
// Failure Isolation:
//
// Dispatch never blocks and never returns an error. When the buffer is full
// the span is dropped and counted - use Dispatcher.DroppedCount() to monitor.
// Reporter failures are logged and counted, never retried by the dispatcher.
//
// Resource Cleanup:
//
// Call Dispatcher.Close() to drain and report buffered spans.
// Call Tracer.Close() to stop the background id generators.
package zipkinz

// Tag represents a span tag key.
type Tag = string

// Well-known tag keys written by the Tracer helpers.
const (
	TagError  Tag = "error"
	TagMethod Tag = "http.method"
	TagPath   Tag = "http.path"
	TagURL    Tag = "http.url"
	TagHost   Tag = "http.host"
)
