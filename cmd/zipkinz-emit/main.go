// Command zipkinz-emit sends a synthetic trace to a Zipkin collector.
// It is meant for checking that a collector, its transport and the
// sampling settings of a deployment are wired up correctly.
//
//	zipkinz-emit --collector http://localhost:9411/api/v2/spans --fanout 3
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/zoobzio/zipkinz"
	"github.com/zoobzio/zipkinz/senders"
)

type options struct {
	configPath string
	collector  string
	brokers    []string
	topic      string
	service    string
	remote     string
	rate       float64
	fanout     int
	traces     int
	gzip       bool
	debug      bool
	verbose    bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("zipkinz-emit", pflag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "YAML config file (ZIPKINZ_* env vars override it)")
	fs.StringVar(&o.collector, "collector", "http://localhost:9411"+senders.DefaultCollectorPath, "collector span endpoint")
	fs.StringSliceVar(&o.brokers, "kafka-brokers", nil, "send through Kafka instead of HTTP")
	fs.StringVar(&o.topic, "kafka-topic", senders.DefaultKafkaTopic, "Kafka topic")
	fs.StringVar(&o.service, "service", "", "local service name (overrides config)")
	fs.StringVar(&o.remote, "remote", "downstream", "remote service name for client spans")
	fs.Float64Var(&o.rate, "rate", -1, "sample rate in [0,1]; overrides config, including traces_per_second")
	fs.IntVar(&o.fanout, "fanout", 2, "client calls per trace")
	fs.IntVar(&o.traces, "traces", 1, "number of traces to emit")
	fs.BoolVar(&o.gzip, "gzip", false, "gzip HTTP request bodies")
	fs.BoolVar(&o.debug, "debug", false, "set the B3 debug flag on every trace")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log every span")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.fanout < 0 || o.traces < 1 {
		return o, fmt.Errorf("fanout must be >= 0 and traces >= 1")
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(o.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), o, logger); err != nil {
		logger.Error("emit failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, o options, logger *zap.Logger) error {
	cfg, err := zipkinz.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.service != "" {
		cfg.ServiceName = o.service
	}
	if o.rate >= 0 {
		cfg.SampleRate = o.rate
		cfg.TracesPerSecond = 0
	}
	cfg.LogSpans = cfg.LogSpans || o.verbose

	sender, err := newSender(o, logger)
	if err != nil {
		return err
	}

	pipeline, err := zipkinz.NewFromConfig(cfg, sender, logger)
	if err != nil {
		_ = sender.Close()
		return err
	}

	for i := 0; i < o.traces; i++ {
		emitTrace(ctx, pipeline.Tracer, o)
	}

	closeCtx, cancel := context.WithTimeout(ctx, cfg.ReportTimeout+time.Second)
	defer cancel()
	if err := pipeline.Close(closeCtx); err != nil {
		return err
	}

	d := pipeline.Dispatcher
	logger.Info("done",
		zap.Int64("reported", d.ReportedCount()),
		zap.Int64("dropped", d.DroppedCount()),
		zap.Int64("failed_batches", d.FailedBatches()),
	)
	if d.FailedBatches() > 0 {
		return fmt.Errorf("%d batches failed", d.FailedBatches())
	}
	return nil
}

func newSender(o options, logger *zap.Logger) (zipkinz.Sender, error) {
	if len(o.brokers) > 0 {
		return senders.NewKafkaSender(o.brokers, o.topic)
	}
	opts := []senders.HTTPOption{senders.WithHTTPLogger(logger.Named("http"))}
	if o.gzip {
		opts = append(opts, senders.WithGzip())
	}
	return senders.NewHTTPSender(o.collector, opts...)
}

// emitTrace simulates one inbound request that fans out to o.fanout
// downstream calls and does a bit of local work.
func emitTrace(ctx context.Context, tracer *zipkinz.Tracer, o options) {
	inbound := zipkinz.MapCarrier{}
	if o.debug {
		inbound.Set(zipkinz.HeaderFlags, "1")
	}

	ctx, server := tracer.StartServer(ctx, inbound, "GET")
	server.Tag(zipkinz.TagPath, "/emit")
	defer tracer.Finish(server)

	_ = tracer.Trace(ctx, "prepare", func(context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	for i := 0; i < o.fanout; i++ {
		outbound := zipkinz.MapCarrier{}
		_, client := tracer.StartClient(ctx, outbound, "GET", o.remote)
		client.Tag(zipkinz.TagURL, fmt.Sprintf("http://%s/items/%d", o.remote, i))
		time.Sleep(2 * time.Millisecond)
		client.Annotate("response received")
		tracer.Finish(client)
	}
}
