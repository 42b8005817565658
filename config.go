package zipkinz

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "ZIPKINZ"

// Config holds everything needed to assemble a tracing pipeline.
type Config struct {
	ServiceName string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	// SampleRate is the fraction of new traces accepted by the rate sampler.
	SampleRate float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
	// TracesPerSecond switches to the rate-limiting sampler when > 0.
	TracesPerSecond float64 `yaml:"traces_per_second" envconfig:"TRACES_PER_SECOND"`

	BufferSize    int           `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
	BatchSize     int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL"`
	ReportTimeout time.Duration `yaml:"report_timeout" envconfig:"REPORT_TIMEOUT"`

	// LogSpans adds a reporter that logs every span at debug level.
	LogSpans bool `yaml:"log_spans" envconfig:"LOG_SPANS"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ServiceName:   "unknown",
		SampleRate:    1,
		BufferSize:    DefaultBufferSize,
		BatchSize:     DefaultBatchSize,
		FlushInterval: DefaultFlushInterval,
		ReportTimeout: DefaultReportTimeout,
	}
}

// LoadConfig starts from DefaultConfig, applies the YAML file at path when
// path is not empty, then applies ZIPKINZ_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRate, c.SampleRate)
	}
	if err := validateRateLimit(c.TracesPerSecond); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer_size %d", ErrInvalidOption, c.BufferSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size %d", ErrInvalidOption, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval %v", ErrInvalidOption, c.FlushInterval)
	}
	if c.ReportTimeout <= 0 {
		return fmt.Errorf("%w: report_timeout %v", ErrInvalidOption, c.ReportTimeout)
	}
	return nil
}

// Sampler builds the sampler selected by the configuration.
func (c Config) Sampler() (Sampler, error) {
	if c.TracesPerSecond > 0 {
		return NewRateLimitingSampler(c.TracesPerSecond)
	}
	return NewRateSampler(c.SampleRate)
}

// Pipeline is a tracer together with the dispatcher feeding its reporters.
type Pipeline struct {
	Tracer     *Tracer
	Dispatcher *Dispatcher
	reporter   *JSONReporter
}

// NewFromConfig assembles sampler, reporter, dispatcher and tracer.
// A nil logger disables logging.
func NewFromConfig(cfg Config, sender Sender, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sampler, err := cfg.Sampler()
	if err != nil {
		return nil, err
	}
	reporter, err := NewJSONReporter(sender)
	if err != nil {
		return nil, err
	}
	reporters := []Reporter{reporter}
	if cfg.LogSpans {
		logReporter, err := NewLogReporter(logger.Named("spans"))
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, logReporter)
	}

	dispatcher, err := NewDispatcher(reporters,
		WithBufferSize(cfg.BufferSize),
		WithBatchSize(cfg.BatchSize),
		WithFlushInterval(cfg.FlushInterval),
		WithReportTimeout(cfg.ReportTimeout),
		WithDispatcherLogger(logger.Named("dispatcher")),
	)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithLogger(logger.Named("tracer"))}, opts...)
	tracer, err := New(cfg.ServiceName, sampler, dispatcher, opts...)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		return nil, err
	}

	logger.Info("tracing pipeline ready",
		zap.String("service", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
		zap.Int("buffer_size", cfg.BufferSize),
		zap.Int("batch_size", cfg.BatchSize),
	)
	return &Pipeline{Tracer: tracer, Dispatcher: dispatcher, reporter: reporter}, nil
}

// Close drains the dispatcher, stops the tracer and closes the sender.
// The sender is closed only after the dispatcher loop has exited, even when
// ctx expires first; reporters must honour their context for that to be prompt.
func (p *Pipeline) Close(ctx context.Context) error {
	p.Tracer.Close()
	err := p.Dispatcher.Close(ctx)
	<-p.Dispatcher.Done()
	if cerr := p.reporter.Close(); err == nil {
		err = cerr
	}
	return err
}
