package zipkinz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// DispatchResult reports what happened to a dispatched span.
type DispatchResult uint8

const (
	// Dispatched means the span was queued for reporting.
	Dispatched DispatchResult = iota
	// DroppedFull means the buffer was full and the span was discarded.
	DroppedFull
	// DroppedClosed means the dispatcher was closed.
	DroppedClosed
	// NotSampled means the span's trace was not sampled. Returned by Tracer.Finish.
	NotSampled
)

func (r DispatchResult) String() string {
	switch r {
	case Dispatched:
		return "dispatched"
	case DroppedFull:
		return "dropped_full"
	case DroppedClosed:
		return "dropped_closed"
	case NotSampled:
		return "not_sampled"
	default:
		return "unknown"
	}
}

// SpanDispatcher accepts finished spans without blocking.
type SpanDispatcher interface {
	Dispatch(span Span) DispatchResult
}

// Dispatcher defaults.
const (
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultReportTimeout = 5 * time.Second
	defaultCloseTimeout  = 100 * time.Millisecond
)

type dispatcherConfig struct {
	clock         clockz.Clock
	logger        *zap.Logger
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	reportTimeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherConfig) error

// WithBufferSize sets how many spans may wait for the background loop.
func WithBufferSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: buffer size %d", ErrInvalidOption, n)
		}
		c.bufferSize = n
		return nil
	}
}

// WithBatchSize sets the batch size that triggers an immediate report.
func WithBatchSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) error {
		if n <= 0 {
			return fmt.Errorf("%w: batch size %d", ErrInvalidOption, n)
		}
		c.batchSize = n
		return nil
	}
}

// WithFlushInterval sets the longest a span waits before being reported.
func WithFlushInterval(d time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: flush interval %v", ErrInvalidOption, d)
		}
		c.flushInterval = d
		return nil
	}
}

// WithReportTimeout bounds each reporter call.
func WithReportTimeout(d time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: report timeout %v", ErrInvalidOption, d)
		}
		c.reportTimeout = d
		return nil
	}
}

// WithDispatcherLogger sets the logger used for report failures.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(c *dispatcherConfig) error {
		if logger == nil {
			return ErrNilLogger
		}
		c.logger = logger
		return nil
	}
}

// WithDispatcherClock injects the clock driving the flush interval.
func WithDispatcherClock(clock clockz.Clock) DispatcherOption {
	return func(c *dispatcherConfig) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidOption)
		}
		c.clock = clock
		return nil
	}
}

// Dispatcher buffers finished spans and reports them in batches from a
// single background goroutine.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Dispatcher struct {
	reporters     []Reporter
	spansCh       chan Span
	flushCh       chan chan struct{}
	stopCh        chan struct{}
	done          chan struct{}
	reportCtx     context.Context
	cancelReports context.CancelFunc
	cfg           dispatcherConfig
	droppedCount  atomic.Int64
	reportedCount atomic.Int64
	failedBatches atomic.Int64
	closeOnce     sync.Once
	closeMu       sync.RWMutex
	closed        bool
}

// NewDispatcher starts a dispatcher reporting to reporters.
func NewDispatcher(reporters []Reporter, opts ...DispatcherOption) (*Dispatcher, error) {
	live := make([]Reporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return nil, ErrNoReporters
	}

	cfg := dispatcherConfig{
		clock:         clockz.RealClock,
		logger:        zap.NewNop(),
		bufferSize:    DefaultBufferSize,
		batchSize:     DefaultBatchSize,
		flushInterval: DefaultFlushInterval,
		reportTimeout: DefaultReportTimeout,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	reportCtx, cancelReports := context.WithCancel(context.Background())
	d := &Dispatcher{
		reporters:     live,
		spansCh:       make(chan Span, cfg.bufferSize),
		flushCh:       make(chan chan struct{}),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		reportCtx:     reportCtx,
		cancelReports: cancelReports,
		cfg:           cfg,
	}
	go d.run()
	return d, nil
}

// Dispatch queues a span for reporting and returns immediately.
// If the buffer is full the span is dropped and the drop counter is incremented.
func (d *Dispatcher) Dispatch(span Span) DispatchResult {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		d.droppedCount.Add(1)
		return DroppedClosed
	}

	select {
	case d.spansCh <- span.clone():
		return Dispatched
	default:
		// Buffer full - drop span to prevent blocking.
		d.droppedCount.Add(1)
		return DroppedFull
	}
}

// run is the background batching loop.
func (d *Dispatcher) run() {
	defer close(d.done)
	defer d.cancelReports()

	batch := make([]Span, 0, d.cfg.batchSize)
	timeout := d.cfg.clock.After(d.cfg.flushInterval)

	flush := func() {
		if len(batch) > 0 {
			d.report(batch)
			batch = make([]Span, 0, d.cfg.batchSize)
		}
	}

	for {
		select {
		case span := <-d.spansCh:
			batch = append(batch, span)
			if len(batch) >= d.cfg.batchSize {
				flush()
				timeout = d.cfg.clock.After(d.cfg.flushInterval)
			}
		case <-timeout:
			flush()
			timeout = d.cfg.clock.After(d.cfg.flushInterval)
		case ack := <-d.flushCh:
			batch = d.drain(batch)
			flush()
			close(ack)
			timeout = d.cfg.clock.After(d.cfg.flushInterval)
		case <-d.stopCh:
			batch = d.drain(batch)
			flush()
			return
		}
	}
}

// drain moves every queued span into batch, reporting full batches on the way.
// Must be called from the loop goroutine only.
func (d *Dispatcher) drain(batch []Span) []Span {
	for {
		select {
		case span := <-d.spansCh:
			batch = append(batch, span)
			if len(batch) >= d.cfg.batchSize {
				d.report(batch)
				batch = make([]Span, 0, d.cfg.batchSize)
			}
		default:
			return batch
		}
	}
}

// report hands batch to every reporter. Failures are logged and counted;
// the batch is never retried or re-queued. Reporters after the first get
// their own copy. Once Close has given up, batches are dropped unreported.
func (d *Dispatcher) report(batch []Span) {
	if d.reportCtx.Err() != nil {
		d.droppedCount.Add(int64(len(batch)))
		d.cfg.logger.Warn("spans dropped after close timeout", zap.Int("spans", len(batch)))
		return
	}
	batches := make([][]Span, len(d.reporters))
	batches[0] = batch
	for i := 1; i < len(batches); i++ {
		batches[i] = cloneSpans(batch)
	}
	for i, r := range d.reporters {
		if err := d.safeReport(r, batches[i]); err != nil {
			d.failedBatches.Add(1)
			d.cfg.logger.Warn("span report failed",
				zap.Int("reporter", i),
				zap.Int("spans", len(batch)),
				zap.Error(err),
			)
			continue
		}
		d.reportedCount.Add(int64(len(batch)))
	}
}

func (d *Dispatcher) safeReport(r Reporter, batch []Span) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: reporter panic: %v", ErrReport, rec)
		}
	}()

	ctx, cancel := context.WithTimeout(d.reportCtx, d.cfg.reportTimeout)
	defer cancel()
	return r.Report(ctx, batch)
}

func cloneSpans(batch []Span) []Span {
	out := make([]Span, len(batch))
	for i, s := range batch {
		out[i] = s.clone()
	}
	return out
}

// Flush reports every buffered span and waits until the reporters return
// or ctx is done.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case d.flushCh <- ack:
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting spans, reports what is buffered and stops the loop.
// Safe to call multiple times. A ctx without deadline waits briefly.
// When ctx expires first, in-flight reports are cancelled and whatever is
// still buffered is dropped; Done reports when the loop has exited.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		d.closeMu.Unlock()
		close(d.stopCh)
	})

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCloseTimeout+d.cfg.reportTimeout)
		defer cancel()
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancelReports()
		d.cfg.logger.Warn("dispatcher close timed out", zap.Int("pending", len(d.spansCh)))
		return ctx.Err()
	}
}

// Done is closed once the background loop has exited and no reporter is
// running.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of spans waiting in the buffer.
func (d *Dispatcher) Pending() int {
	return len(d.spansCh)
}

// DroppedCount returns the total number of spans dropped due to backpressure or close.
func (d *Dispatcher) DroppedCount() int64 {
	return d.droppedCount.Load()
}

// ReportedCount returns the number of spans successfully handed to reporters,
// counted once per reporter.
func (d *Dispatcher) ReportedCount() int64 {
	return d.reportedCount.Load()
}

// FailedBatches returns the number of failed reporter calls.
func (d *Dispatcher) FailedBatches() int64 {
	return d.failedBatches.Load()
}
