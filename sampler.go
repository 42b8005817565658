package zipkinz

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"

	"golang.org/x/time/rate"
)

// Sampler decides whether a trace is reported.
type Sampler interface {
	Decide(traceID string) bool
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(traceID string) bool

// Decide calls f.
func (f SamplerFunc) Decide(traceID string) bool { return f(traceID) }

// Resolve commits a sampling verdict for sc. Debug forces Accept, an
// existing verdict is kept, otherwise s decides on the trace id.
func Resolve(s Sampler, sc SpanContext) SpanContext {
	switch {
	case sc.Debug:
		sc.Sampled = Accept
	case sc.Sampled.Resolved():
	default:
		sc.Sampled = DecisionOf(s.Decide(sc.TraceID))
	}
	return sc
}

// AlwaysSample accepts every trace.
var AlwaysSample Sampler = SamplerFunc(func(string) bool { return true })

// NeverSample rejects every trace. Debug traces are still accepted by Resolve.
var NeverSample Sampler = SamplerFunc(func(string) bool { return false })

// sampleModulus is the resolution of the rate sampler.
const sampleModulus = 10000

// RateSampler accepts a fixed fraction of traces. The decision is a pure
// function of the trace id so every service in the trace agrees.
type RateSampler struct {
	rate     float64
	boundary uint64
}

// NewRateSampler returns a sampler accepting the fraction r of traces.
func NewRateSampler(r float64) (*RateSampler, error) {
	if math.IsNaN(r) || r < 0 || r > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, r)
	}
	return &RateSampler{
		rate:     r,
		boundary: uint64(math.Round(r * sampleModulus)),
	}, nil
}

// Rate returns the configured fraction.
func (s *RateSampler) Rate() float64 { return s.rate }

// Decide reports whether the trace falls under the configured fraction.
func (s *RateSampler) Decide(traceID string) bool {
	switch s.boundary {
	case 0:
		return false
	case sampleModulus:
		return true
	}
	return traceIDBits(traceID)%sampleModulus < s.boundary
}

// traceIDBits returns the low 64 bits of a hex trace id. Ids that are not
// hex are hashed so the result is still stable per id.
func traceIDBits(traceID string) uint64 {
	low := traceID
	if len(low) > idLength {
		low = low[len(low)-idLength:]
	}
	if v, err := strconv.ParseUint(low, 16, 64); err == nil {
		return v
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(traceID))
	return h.Sum64()
}

// RateLimitingSampler accepts at most a fixed number of new traces per
// second regardless of traffic.
type RateLimitingSampler struct {
	limiter *rate.Limiter
}

// MaxRateLimit is the largest finite rate accepted by NewRateLimitingSampler.
const MaxRateLimit = math.MaxInt32

// NewRateLimitingSampler returns a sampler that accepts up to perSecond
// traces each second with a burst of one second's allowance. +Inf accepts
// every trace.
func NewRateLimitingSampler(perSecond float64) (*RateLimitingSampler, error) {
	if err := validateRateLimit(perSecond); err != nil {
		return nil, err
	}
	if math.IsInf(perSecond, 1) {
		return &RateLimitingSampler{limiter: rate.NewLimiter(rate.Inf, 1)}, nil
	}
	burst := int(math.Ceil(perSecond))
	return &RateLimitingSampler{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}, nil
}

func validateRateLimit(perSecond float64) error {
	if math.IsNaN(perSecond) || perSecond < 0 || (perSecond > MaxRateLimit && !math.IsInf(perSecond, 1)) {
		return fmt.Errorf("%w: %v", ErrInvalidRateLimit, perSecond)
	}
	return nil
}

// Decide consumes one token if available.
func (s *RateLimitingSampler) Decide(string) bool {
	return s.limiter.Allow()
}
