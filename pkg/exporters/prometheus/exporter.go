package prometheus

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supporttools/hass-watchdog/pkg/logger"
	"github.com/supporttools/hass-watchdog/pkg/probe"
	"github.com/supporttools/hass-watchdog/pkg/types"
)

const kindUnknown = "unknown"

// Remediation results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Exporter turns watchdog observations into Prometheus metrics. It
// implements types.StateObserver and the remediation observer interface.
type Exporter struct {
	registry  *prometheus.Registry
	metrics   *Metrics
	startTime time.Time
	version   string
	relay     func() bool
	errorLog  promhttp.Logger
}

// ExporterOption customises an Exporter.
type ExporterOption func(*Exporter)

// WithVersion sets the version reported by the info metric.
func WithVersion(version string) ExporterOption {
	return func(e *Exporter) { e.version = version }
}

// WithRelayBound exports a relay_bound gauge evaluated at scrape time.
func WithRelayBound(bound func() bool) ExporterOption {
	return func(e *Exporter) { e.relay = bound }
}

// WithErrorLog sets where scrape errors are logged.
func WithErrorLog(l promhttp.Logger) ExporterOption {
	return func(e *Exporter) { e.errorLog = l }
}

// WithStartTime overrides the reported start time.
func WithStartTime(t time.Time) ExporterOption {
	return func(e *Exporter) { e.startTime = t }
}

// NewExporter creates an exporter with its own registry.
func NewExporter(namespace string, opts ...ExporterOption) (*Exporter, error) {
	metrics, err := NewMetrics(namespace, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	e := &Exporter{
		registry:  NewRegistry(),
		metrics:   metrics,
		startTime: time.Now(),
		version:   "unknown",
		errorLog:  logger.For("metrics"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := metrics.Register(e.registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if e.relay != nil {
		if namespace == "" {
			namespace = types.DefaultMetricsNamespace
		}
		bound := e.relay
		relayGauge := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_bound",
				Help:      "Whether a relay device has been discovered and bound (1 = bound)",
			},
			func() float64 {
				if bound() {
					return 1
				}
				return 0
			},
		)
		if err := e.registry.Register(relayGauge); err != nil {
			return nil, fmt.Errorf("failed to register relay gauge: %w", err)
		}
	}

	e.initializeStaticMetrics()
	return e, nil
}

// ObserveCheck records the outcome of one health check.
func (e *Exporter) ObserveCheck(state types.HealthState, failures int, probeErr error, duration time.Duration) {
	e.metrics.PingsTotal.Inc()
	e.metrics.ProbeDuration.Observe(duration.Seconds())
	e.metrics.ConsecutiveFailures.Set(float64(failures))
	e.setState(state)

	if probeErr != nil {
		e.metrics.ProbeFailuresTotal.WithLabelValues(failureKind(probeErr)).Inc()
	}
}

// ObserveTransition records a health state change.
func (e *Exporter) ObserveTransition(from, to types.HealthState) {
	e.metrics.StateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	e.setState(to)
}

// ObserveRemediation records the outcome of one power cycle.
func (e *Exporter) ObserveRemediation(err error, duration time.Duration) {
	e.metrics.RemediationDuration.Observe(duration.Seconds())
	if err != nil {
		e.metrics.RemediationsTotal.WithLabelValues(ResultFailure).Inc()
		return
	}
	e.metrics.RemediationsTotal.WithLabelValues(ResultSuccess).Inc()
	e.metrics.RebootsTotal.Inc()
}

// Registry returns the registry holding the watchdog metrics.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the HTTP handler serving the registry.
func (e *Exporter) Handler() http.Handler {
	return newHandler(e.registry, e.errorLog)
}

func (e *Exporter) setState(state types.HealthState) {
	if state.IsAlive() {
		e.metrics.Up.Set(1)
	} else {
		e.metrics.Up.Set(0)
	}
}

// initializeStaticMetrics sets up metrics that don't change after start
func (e *Exporter) initializeStaticMetrics() {
	e.metrics.StartTimeSeconds.Set(float64(e.startTime.Unix()))
	e.metrics.Info.WithLabelValues(e.version, runtime.Version()).Set(1)

	// The service is assumed alive until proven otherwise.
	e.metrics.Up.Set(1)
}

func failureKind(err error) string {
	var f *probe.Failure
	if errors.As(err, &f) && f.Kind != "" {
		return f.Kind
	}
	return kindUnknown
}
