package zipkinz

import "strings"

// Decision is the tri-state sampling verdict carried by a SpanContext.
type Decision uint8

const (
	// Unset means no sampler has decided yet.
	Unset Decision = iota
	// Accept means spans of the trace are reported.
	Accept
	// Deny means spans of the trace are discarded.
	Deny
)

// Resolved reports whether a verdict exists.
func (d Decision) Resolved() bool { return d == Accept || d == Deny }

// Sampled reports whether the verdict is Accept.
func (d Decision) Sampled() bool { return d == Accept }

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Deny:
		return "deny"
	default:
		return "unset"
	}
}

// DecisionOf converts a boolean verdict.
func DecisionOf(sampled bool) Decision {
	if sampled {
		return Accept
	}
	return Deny
}

// SpanContext identifies a span within a trace and carries the trace's
// sampling flags. It is a value type: derive new contexts with Child rather
// than editing fields of a shared one.
type SpanContext struct {
	TraceID  string
	ID       string
	ParentID string
	Debug    bool
	Sampled  Decision
}

// NewRoot starts a new trace.
func NewRoot() SpanContext {
	return newRoot(generateID)
}

func newRoot(next func() string) SpanContext {
	return SpanContext{
		TraceID: next(),
		ID:      next(),
	}
}

// Child derives the context of a span caused by sc. The trace id and
// sampling flags carry over unchanged; sc's span id becomes the parent id.
func (sc SpanContext) Child() SpanContext {
	return sc.child(generateID)
}

func (sc SpanContext) child(next func() string) SpanContext {
	traceID := sc.TraceID
	if traceID == "" {
		traceID = next()
	}
	return SpanContext{
		TraceID:  traceID,
		ID:       next(),
		ParentID: sc.ID,
		Debug:    sc.Debug,
		Sampled:  sc.Sampled,
	}
}

// IsRoot reports whether the context has no parent.
func (sc SpanContext) IsRoot() bool { return sc.ParentID == "" }

// Valid reports whether the context carries well-formed trace and span ids.
func (sc SpanContext) Valid() bool {
	return validTraceID(sc.TraceID) && validSpanID(sc.ID)
}

// validTraceID accepts 64-bit and 128-bit lowercase hex ids.
func validTraceID(id string) bool {
	return (len(id) == idLength || len(id) == 2*idLength) && isNonZeroHex(id)
}

func validSpanID(id string) bool {
	return len(id) == idLength && isNonZeroHex(id)
}

func isNonZeroHex(s string) bool {
	nonZero := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '0':
		case c >= '1' && c <= '9', c >= 'a' && c <= 'f':
			nonZero = true
		default:
			return false
		}
	}
	return nonZero
}

// normalizeID lowercases an inbound id and returns "" when it is malformed.
func normalizeID(raw string, valid func(string) bool) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	if !valid(id) {
		return ""
	}
	return id
}
