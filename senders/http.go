package senders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// DefaultCollectorPath is the collector's span ingest path.
const DefaultCollectorPath = "/api/v2/spans"

// HTTPSender posts JSON span batches to a collector.
type HTTPSender struct {
	client  *retryablehttp.Client
	url     string
	headers map[string]string
	gzip    bool
}

// HTTPOption configures an HTTPSender.
type HTTPOption func(*HTTPSender)

// WithRetries sets the retry budget and backoff bounds.
func WithRetries(maxRetries int, waitMin, waitMax time.Duration) HTTPOption {
	return func(s *HTTPSender) {
		s.client.RetryMax = maxRetries
		s.client.RetryWaitMin = waitMin
		s.client.RetryWaitMax = waitMax
	}
}

// WithGzip compresses request bodies.
func WithGzip() HTTPOption {
	return func(s *HTTPSender) { s.gzip = true }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(s *HTTPSender) { s.headers[key] = value }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSender) {
		if c != nil {
			s.client.HTTPClient = c
		}
	}
}

// WithHTTPLogger logs retries through logger.
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPSender) {
		if logger != nil {
			s.client.Logger = leveledLogger{s: logger.Sugar()}
		}
	}
}

// NewHTTPSender creates a sender posting to url, typically
// "http://collector:9411" + DefaultCollectorPath.
func NewHTTPSender(url string, opts ...HTTPOption) (*HTTPSender, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{s: zap.NewNop().Sugar()}

	s := &HTTPSender{
		client:  client,
		url:     url,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send posts body. Transport errors and non-2xx responses are returned
// once the retry budget is spent.
func (s *HTTPSender) Send(ctx context.Context, body []byte) error {
	payload := body
	if s.gzip {
		var err error
		if payload, err = compress(body); err != nil {
			return fmt.Errorf("failed to compress spans: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post spans: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSender) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// leveledLogger routes retryablehttp logs to zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
