package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the policy decision engine.
type Metrics struct {
	config MetricsConfig

	// Decision metrics
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec

	// Violation metrics
	violationsTotal *prometheus.CounterVec
	checkFaults     *prometheus.CounterVec
	malformedInputs prometheus.Counter

	// Registry metrics
	policiesLoaded  prometheus.Gauge
	registryReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled config yields a no-op
// instance so call sites never need nil checks.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DecisionDurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of policy decisions by verdict",
			},
			[]string{"source", "verdict"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"source"},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Total number of policy violations by policy and enforcement level",
			},
			[]string{"policy", "level"},
		),
		checkFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_faults_total",
				Help:      "Total number of internal checker faults, distinct from policy violations",
			},
			[]string{"policy"},
		),
		malformedInputs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_inputs_total",
				Help:      "Total number of subject resources that could not be normalized",
			},
		),
		policiesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "policies_loaded",
				Help:      "Current number of policies in the registry",
			},
		),
		registryReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_reloads_total",
				Help:      "Total number of registry reload attempts by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.decisionDuration,
		m.violationsTotal,
		m.checkFaults,
		m.malformedInputs,
		m.policiesLoaded,
		m.registryReloads,
	)

	return m, nil
}

// RecordDecision records a completed evaluation with its verdict and
// duration. Source distinguishes plan gating from admission gating.
func (m *Metrics) RecordDecision(source string, allowed bool, duration time.Duration) {
	if m.decisionsTotal == nil {
		return
	}
	verdict := "denied"
	if allowed {
		verdict = "allowed"
	}
	m.decisionsTotal.WithLabelValues(source, verdict).Inc()
	m.decisionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordViolation records one policy violation.
func (m *Metrics) RecordViolation(policy, level string) {
	if m.violationsTotal == nil {
		return
	}
	m.violationsTotal.WithLabelValues(policy, level).Inc()
}

// RecordCheckFault records an internal checker fault.
func (m *Metrics) RecordCheckFault(policy string) {
	if m.checkFaults == nil {
		return
	}
	m.checkFaults.WithLabelValues(policy).Inc()
}

// RecordMalformedInput records a subject that could not be normalized.
func (m *Metrics) RecordMalformedInput() {
	if m.malformedInputs == nil {
		return
	}
	m.malformedInputs.Inc()
}

// SetPoliciesLoaded sets the current registry size.
func (m *Metrics) SetPoliciesLoaded(count int) {
	if m.policiesLoaded == nil {
		return
	}
	m.policiesLoaded.Set(float64(count))
}

// RecordReload records a registry reload attempt.
func (m *Metrics) RecordReload(success bool) {
	if m.registryReloads == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.registryReloads.WithLabelValues(status).Inc()
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

// StartMetricsServer exposes metrics on the configured standalone address.
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
