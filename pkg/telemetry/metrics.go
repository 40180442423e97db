package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/reconcile"
)

// Metrics provides Prometheus metrics for iloctl. It implements
// reconcile.Observer so it can be handed to the engine directly.
type Metrics struct {
	config MetricsConfig

	// Command metrics
	commandsExecuted *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec

	// Reconcile metrics
	reconcilesCompleted *prometheus.CounterVec
	reconcileDuration   *prometheus.HistogramVec
	reconcileChanges    *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Session metrics
	activeSessions prometheus.Gauge

	registry *prometheus.Registry
}

var _ reconcile.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		commandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_executed_total",
				Help:      "Total number of CLP commands sent to devices",
			},
			[]string{"domain", "phase", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of individual CLP command round trips in seconds",
				Buckets:   buckets,
			},
			[]string{"domain", "phase"},
		),

		reconcilesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_completed_total",
				Help:      "Total number of reconciliation runs by final phase",
			},
			[]string{"domain", "result"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of full reconciliation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"domain"},
		),
		reconcileChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_changes_total",
				Help:      "Total number of reconciliation runs that mutated device state",
			},
			[]string{"domain"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"class"},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of open SSH sessions to devices",
			},
		),
	}

	registry.MustRegister(
		m.commandsExecuted,
		m.commandDuration,
		m.reconcilesCompleted,
		m.reconcileDuration,
		m.reconcileChanges,
		m.errorsByClass,
		m.activeSessions,
	)

	return m, nil
}

// CommandExecuted records one CLP command round trip. It satisfies
// reconcile.Observer.
func (m *Metrics) CommandExecuted(kind domain.Kind, phase reconcile.Phase, duration time.Duration, err error) {
	if m.commandsExecuted == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
		m.errorsByClass.WithLabelValues(string(reconcile.ClassOf(err))).Inc()
	}
	m.commandsExecuted.WithLabelValues(string(kind), string(phase), status).Inc()
	m.commandDuration.WithLabelValues(string(kind), string(phase)).Observe(duration.Seconds())
}

// ReconcileCompleted records a finished reconciliation run. It satisfies
// reconcile.Observer.
func (m *Metrics) ReconcileCompleted(kind domain.Kind, result reconcile.Phase, changed bool, duration time.Duration) {
	if m.reconcilesCompleted == nil {
		return
	}

	m.reconcilesCompleted.WithLabelValues(string(kind), string(result)).Inc()
	m.reconcileDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
	if changed {
		m.reconcileChanges.WithLabelValues(string(kind)).Inc()
	}
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Dec()
}

// RecordError records an error by classification outside of command
// execution, e.g. connect failures.
func (m *Metrics) RecordError(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
