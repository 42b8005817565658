// Package otelb3 exposes the zipkinz B3 codec as an OpenTelemetry
// TextMapPropagator, so code written against otel's global propagator
// (message publishers, HTTP middleware) carries zipkinz span contexts.
package otelb3

import (
	"context"

	"go.opentelemetry.io/otel/propagation"

	"github.com/zoobzio/zipkinz"
)

// Propagator moves the SpanContext held by an Accessor in and out of a
// TextMapCarrier using B3 headers.
type Propagator struct {
	accessor zipkinz.Accessor
}

var _ propagation.TextMapPropagator = Propagator{}

// New returns a propagator backed by accessor. A nil accessor uses the
// context.Context accessor.
func New(accessor zipkinz.Accessor) Propagator {
	if accessor == nil {
		accessor = zipkinz.ContextAccessor{}
	}
	return Propagator{accessor: accessor}
}

// Inject writes the current SpanContext of ctx into carrier.
func (p Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc, ok := p.accessor.Load(ctx)
	if !ok || !sc.Valid() {
		return
	}
	zipkinz.Encode(sc, carrier)
}

// Extract reads B3 headers from carrier and saves the upstream SpanContext
// in the returned context. Without a usable trace id ctx is returned as is.
func (p Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	sc, ok := zipkinz.Extract(carrier)
	if !ok {
		return ctx
	}
	return p.accessor.Save(ctx, sc)
}

// Fields returns the B3 header names.
func (p Propagator) Fields() []string {
	return append([]string(nil), zipkinz.B3Headers...)
}
