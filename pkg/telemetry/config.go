package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains the telemetry configuration for ordo.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment is reported as deployment.environment on traces.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path opened for appending.
	Output string

	EnableCaller bool

	// Sampling lets SamplingInitial messages through per second, then every
	// SamplingThereafter-th message.
	EnableSampling     bool
	SamplingInitial    int `validate:"gte=0"`
	SamplingThereafter int `validate:"gte=0"`

	// TimeFormat is one of unix, unixms, unixmicro or rfc3339.
	TimeFormat string `validate:"omitempty,oneof=unix unixms unixmicro rfc3339"`
}

// TracingConfig configures tracing. Exporter otlp needs an Endpoint.
type TracingConfig struct {
	Enabled      bool
	Exporter     string  `validate:"oneof=otlp stdout none"`
	Endpoint     string
	SamplingRate float64 `validate:"gte=0,lte=1"`

	MaxExportBatchSize int `validate:"gte=0"`
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`

	// Path defaults to /metrics.
	Path      string
	Namespace string

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the event publisher that carries notifications.
// Async delivery needs a positive BufferSize.
type EventsConfig struct {
	Enabled     bool
	BufferSize  int
	EnableAsync bool
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		t := sl.Current().Interface().(TracingConfig)
		if t.Enabled && t.Exporter == "otlp" && t.Endpoint == "" {
			sl.ReportError(t.Endpoint, "Endpoint", "Endpoint", "required_for_otlp", "")
		}
	}, TracingConfig{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		e := sl.Current().Interface().(EventsConfig)
		if e.Enabled && e.EnableAsync && e.BufferSize <= 0 {
			sl.ReportError(e.BufferSize, "BufferSize", "BufferSize", "gt_for_async", "0")
		}
	}, EventsConfig{})
	return v
}

// DefaultConfig is the configuration used by one-shot CLI commands: console
// logs on stderr, synchronous events, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "ordo",
		ServiceVersion: "dev",
		Environment:    "local",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "ordo",
			// Passes over small inventories finish well under a millisecond.
			DefaultHistogramBuckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5,
			},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
		ResourceAttributes: map[string]string{},
	}
}

// WatchConfig is tuned for the long-running watch command: JSON logs with
// sampling and asynchronous event delivery.
func WatchConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "watch"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unixms"
	cfg.Events.EnableAsync = true
	return cfg
}

// DebugConfig logs everything with callers and prints spans to stdout.
func DebugConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "trace"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("invalid telemetry config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}
