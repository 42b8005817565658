package zipkinz

import "net/http"

// B3 header names.
const (
	HeaderTraceID      = "X-B3-TraceId"
	HeaderSpanID       = "X-B3-SpanId"
	HeaderParentSpanID = "X-B3-ParentSpanId"
	HeaderSampled      = "X-B3-Sampled"
	HeaderFlags        = "X-B3-Flags"
)

// B3Headers lists the header names in the order Encode writes them.
var B3Headers = []string{HeaderTraceID, HeaderSpanID, HeaderParentSpanID, HeaderSampled, HeaderFlags}

// Carrier is the header bag the B3 codec reads from and writes to.
// Get returns "" for an absent key. Any otel propagation.TextMapCarrier
// satisfies it.
type Carrier interface {
	Get(key string) string
	Set(key, value string)
}

// MapCarrier is a Carrier backed by a plain map with exact key matching.
type MapCarrier map[string]string

// Get returns the value for key.
func (m MapCarrier) Get(key string) string { return m[key] }

// Set stores value under key.
func (m MapCarrier) Set(key, value string) { m[key] = value }

// HTTPHeaderCarrier adapts http.Header, which canonicalizes keys.
type HTTPHeaderCarrier http.Header

// Get returns the first value for key.
func (h HTTPHeaderCarrier) Get(key string) string { return http.Header(h).Get(key) }

// Set replaces the values for key.
func (h HTTPHeaderCarrier) Set(key, value string) { http.Header(h).Set(key, value) }

// Encode writes sc into c as B3 headers. The sampled header is written only
// once a verdict exists; the parent header only when sc has a parent.
func Encode(sc SpanContext, c Carrier) {
	if sc.TraceID != "" {
		c.Set(HeaderTraceID, sc.TraceID)
	}
	if sc.ID != "" {
		c.Set(HeaderSpanID, sc.ID)
	}
	if sc.ParentID != "" {
		c.Set(HeaderParentSpanID, sc.ParentID)
	}
	if sc.Sampled.Resolved() {
		c.Set(HeaderSampled, flag(sc.Sampled.Sampled()))
	}
	c.Set(HeaderFlags, flag(sc.Debug))
}

// Extract reads B3 headers from c. The boolean reports whether a valid
// upstream trace id was found. Malformed ids are treated as absent and
// never returned.
func Extract(c Carrier) (SpanContext, bool) {
	sc := SpanContext{
		TraceID: normalizeID(c.Get(HeaderTraceID), validTraceID),
		Debug:   c.Get(HeaderFlags) == "1",
		Sampled: parseSampled(c.Get(HeaderSampled)),
	}
	if sc.TraceID == "" {
		return sc, false
	}
	sc.ID = normalizeID(c.Get(HeaderSpanID), validSpanID)
	if sc.ID != "" {
		// A parent without a span id is meaningless.
		sc.ParentID = normalizeID(c.Get(HeaderParentSpanID), validSpanID)
	}
	return sc, true
}

// Decode reads B3 headers from c and never fails. Without a usable trace id
// the result is a fresh root that still honours the sampled and debug flags.
func Decode(c Carrier) SpanContext {
	return decode(c, generateID)
}

func decode(c Carrier, next func() string) SpanContext {
	sc, ok := Extract(c)
	if ok {
		return sc
	}
	root := newRoot(next)
	root.Debug = sc.Debug
	root.Sampled = sc.Sampled
	return root
}

// parseSampled maps "1" to Accept and any other present value to Deny.
func parseSampled(v string) Decision {
	switch v {
	case "":
		return Unset
	case "1":
		return Accept
	default:
		return Deny
	}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
