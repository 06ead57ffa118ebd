package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all the Prometheus metrics exported by the watchdog
type Metrics struct {
	// Counter metrics
	PingsTotal            prometheus.Counter
	ProbeFailuresTotal    *prometheus.CounterVec
	StateTransitionsTotal *prometheus.CounterVec
	RemediationsTotal     *prometheus.CounterVec
	RebootsTotal          prometheus.Counter

	// Gauge metrics
	Up                  prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge
	Info                *prometheus.GaugeVec
	StartTimeSeconds    prometheus.Gauge

	// Histogram metrics
	ProbeDuration       prometheus.Histogram
	RemediationDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metric definitions
func NewMetrics(namespace string, constLabels prometheus.Labels) (*Metrics, error) {
	if namespace == "" {
		namespace = "hass_watchdog"
	}
	if !isValidMetricName(namespace) {
		return nil, fmt.Errorf("invalid namespace: %s", namespace)
	}

	labels := make(prometheus.Labels)
	for k, v := range constLabels {
		labels[k] = v
	}

	m := &Metrics{
		// Counter metrics
		PingsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "pings_total",
				Help:        "Total number of health checks performed",
				ConstLabels: labels,
			},
		),

		ProbeFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "probe_failures_total",
				Help:        "Total number of failed health checks by failure kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),

		StateTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "state_transitions_total",
				Help:        "Total number of health state changes",
				ConstLabels: labels,
			},
			[]string{"from", "to"},
		),

		RemediationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "remediations_total",
				Help:        "Total number of power cycles attempted by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),

		RebootsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "reboots_total",
				Help:        "Total number of completed power cycles",
				ConstLabels: labels,
			},
		),

		// Gauge metrics
		Up: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "up",
				Help:        "Whether the monitored service is considered alive (1 = alive, 0 = down)",
				ConstLabels: labels,
			},
		),

		ConsecutiveFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "consecutive_failures",
				Help:        "Number of consecutive failed health checks",
				ConstLabels: labels,
			},
		),

		Info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "info",
				Help:        "Watchdog version and build information",
				ConstLabels: labels,
			},
			[]string{"version", "go_version"},
		),

		StartTimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "start_time_seconds",
				Help:        "Unix timestamp when the watchdog was started",
				ConstLabels: labels,
			},
		),

		// Histogram metrics
		ProbeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "probe_duration_seconds",
				Help:        "Duration of health checks in seconds",
				ConstLabels: labels,
				Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		RemediationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "remediation_duration_seconds",
				Help:        "Duration of power cycles in seconds, including the recovery delay",
				ConstLabels: labels,
				Buckets:     []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
		),
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PingsTotal,
		m.ProbeFailuresTotal,
		m.StateTransitionsTotal,
		m.RemediationsTotal,
		m.RebootsTotal,
		m.Up,
		m.ConsecutiveFailures,
		m.Info,
		m.StartTimeSeconds,
		m.ProbeDuration,
		m.RemediationDuration,
	}
}

// Register registers all metrics with the provided registry
func (m *Metrics) Register(registry *prometheus.Registry) error {
	for _, collector := range m.collectors() {
		if err := registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

// Unregister removes all metrics from the provided registry
func (m *Metrics) Unregister(registry *prometheus.Registry) {
	for _, collector := range m.collectors() {
		registry.Unregister(collector)
	}
}

// isValidMetricName checks if a string is a valid Prometheus metric name component
func isValidMetricName(name string) bool {
	if len(name) == 0 {
		return false
	}

	for i, r := range name {
		if i == 0 {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == ':') {
				return false
			}
		} else {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == ':') {
				return false
			}
		}
	}

	return true
}
