package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordomods/ordo/pkg/engine"
)

// Metrics provides Prometheus metrics for the reconciliation engine.
// It implements engine.Recorder.
type Metrics struct {
	config MetricsConfig

	// Pass metrics
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	staleDiscards *prometheus.CounterVec
	queuedPasses  *prometheus.GaugeVec

	// Normalizer metrics
	normalizerCalls    *prometheus.CounterVec
	normalizerDuration prometheus.Histogram

	// Ordering metrics
	exclusions       *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
	inventoryVersion prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.Recorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Total number of reconciliation passes by outcome",
			},
			[]string{"profile", "status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Duration of reconciliation passes in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		staleDiscards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_discards_total",
				Help:      "Total number of passes discarded at commit",
			},
			[]string{"profile"},
		),
		queuedPasses: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_passes",
				Help:      "Current number of queued passes per profile",
			},
			[]string{"profile"},
		),

		normalizerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "normalizer_calls_total",
				Help:      "Total number of normalizer calls by outcome",
			},
			[]string{"outcome"},
		),
		normalizerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "normalizer_duration_seconds",
				Help:      "Duration of normalizer calls in seconds",
				Buckets:   buckets,
			},
		),

		exclusions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sort_exclusions_total",
				Help:      "Total number of modules excluded from an order by reason",
			},
			[]string{"reason"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by policy",
			},
			[]string{"policy"},
		),
		inventoryVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inventory_version",
				Help:      "Current module inventory version",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.passes,
		m.passDuration,
		m.staleDiscards,
		m.queuedPasses,
		m.normalizerCalls,
		m.normalizerDuration,
		m.exclusions,
		m.policyViolations,
		m.inventoryVersion,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the registry metrics are registered with, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPass records a finished pass and its duration.
func (m *Metrics) RecordPass(profileID, status string, duration time.Duration) {
	if m.passes == nil {
		return
	}
	m.passes.WithLabelValues(profileID, status).Inc()
	m.passDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == string(engine.PassStatusDiscarded) {
		m.staleDiscards.WithLabelValues(profileID).Inc()
	}
}

// RecordNormalizerCall records one normalizer invocation.
func (m *Metrics) RecordNormalizerCall(success bool, duration time.Duration) {
	if m.normalizerCalls == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.normalizerCalls.WithLabelValues(outcome).Inc()
	m.normalizerDuration.Observe(duration.Seconds())
}

// RecordExclusions records modules removed from an order for a reason.
func (m *Metrics) RecordExclusions(reason string, count int) {
	if m.exclusions == nil || count <= 0 {
		return
	}
	m.exclusions.WithLabelValues(reason).Add(float64(count))
}

// RecordQueueDepth records the number of queued passes for a profile.
func (m *Metrics) RecordQueueDepth(profileID string, depth int) {
	if m.queuedPasses == nil {
		return
	}
	m.queuedPasses.WithLabelValues(profileID).Set(float64(depth))
}

// RecordPolicyViolation records a violation reported by a policy.
func (m *Metrics) RecordPolicyViolation(policy string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy).Inc()
}

// SetInventoryVersion sets the current inventory version.
func (m *Metrics) SetInventoryVersion(version uint64) {
	if m.inventoryVersion == nil {
		return
	}
	m.inventoryVersion.Set(float64(version))
}

// RecordError records an error by class and code. Errors that are not
// engine errors are counted as class "unknown".
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		m.errorsByClass.WithLabelValues("unknown").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(ee.Class)).Inc()
	if ee.Code != "" {
		m.errorsByCode.WithLabelValues(ee.Code).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes metrics over HTTP until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
