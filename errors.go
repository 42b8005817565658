package zipkinz

import "errors"

// Configuration errors. These are returned from constructors so a broken
// setup fails before the first request is traced.
var (
	ErrInvalidSampleRate = errors.New("sample rate must be within [0, 1]")
	ErrInvalidRateLimit  = errors.New("traces per second must be >= 0")
	ErrInvalidOption     = errors.New("invalid option value")
	ErrNilSampler        = errors.New("sampler is nil")
	ErrNilDispatcher     = errors.New("dispatcher is nil")
	ErrNilSender         = errors.New("sender is nil")
	ErrNilLogger         = errors.New("logger is nil")
	ErrNoReporters       = errors.New("at least one reporter is required")
)

// Span lifecycle errors returned by SpanBuilder.Build.
var (
	ErrSpanNotStarted = errors.New("span was never started")
	ErrSpanNotEnded   = errors.New("span was never ended")
)

// Runtime errors.
var (
	ErrReport           = errors.New("report failed")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)
