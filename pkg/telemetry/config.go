package telemetry

import (
	"fmt"
	"time"
)

// Config holds every telemetry knob the CLI exposes. The zero value is
// not usable; start from DefaultConfig and override.
type Config struct {
	// ServiceName identifies this binary in logs, traces, and metrics.
	ServiceName string

	// ServiceVersion is stamped onto the OTel resource.
	ServiceVersion string

	// Environment tags telemetry with the deployment stage, for
	// example "production" or "staging".
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog root logger.
type LoggingConfig struct {
	// Level is the minimum level emitted (trace, debug, info, warn,
	// error, fatal).
	Level string

	// Format is "console" for human output or "json" for machines.
	Format string

	// Output is "stdout", "stderr", or a file path.
	Output string

	// EnableCaller adds file:line to every entry.
	EnableCaller bool

	// EnableSampling rate-limits bursts. After SamplingInitial
	// messages per second, only every SamplingThereafter-th message
	// is kept.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	// TimeFormat selects the timestamp encoding (rfc3339, unix,
	// unixms, unixmicro).
	TimeFormat string
}

// TracingConfig configures the OTel trace pipeline.
type TracingConfig struct {
	// Enabled turns the tracer provider on. When false, spans are
	// no-ops.
	Enabled bool

	// Exporter is "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP gRPC collector address, such as
	// "localhost:4317".
	Endpoint string

	// SamplingRate keeps this fraction of traces, 0.0 to 1.0.
	SamplingRate float64

	// MaxExportBatchSize and ExportTimeout tune the batch span
	// processor.
	MaxExportBatchSize int
	ExportTimeout      time.Duration

	// Headers are sent with every OTLP export, typically auth.
	Headers map[string]string

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled registers collectors and allows StartMetricsServer to
	// serve. When false every recording call is a no-op.
	Enabled bool

	// ListenAddress and Path locate the scrape endpoint.
	ListenAddress string
	Path          string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are latency buckets in seconds. CLP
	// commands against iLO firmware routinely take seconds, so the
	// buckets run longer than typical HTTP defaults.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	// Enabled turns publishing on.
	Enabled bool

	// BufferSize bounds the async queue; events beyond it are dropped
	// and counted.
	BufferSize int

	// FlushInterval and MaxBatchSize control batch delivery to
	// subscribers.
	FlushInterval time.Duration
	MaxBatchSize  int

	// EnableAsync delivers events on a background goroutine instead
	// of the publisher's caller.
	EnableAsync bool
}

// DefaultConfig returns the configuration the CLI starts from: console
// logging at info, tracing and metrics off, events on.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "iloctl",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "iloctl",
			DefaultHistogramBuckets: []float64{
				0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    256,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// Validate rejects configurations the constructors would otherwise
// fail on at an awkward moment.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
