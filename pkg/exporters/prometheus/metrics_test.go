package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	tests := []struct {
		name        string
		namespace   string
		constLabels prometheus.Labels
		wantErr     bool
	}{
		{
			name:        "with namespace and labels",
			namespace:   "test_namespace",
			constLabels: prometheus.Labels{"env": "test"},
		},
		{
			name:      "with empty namespace (should use default)",
			namespace: "",
		},
		{
			name:      "with nil constLabels",
			namespace: "test_namespace",
		},
		{
			name:      "invalid namespace",
			namespace: "9-bad",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, err := NewMetrics(tt.namespace, tt.constLabels)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMetrics() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			for i, c := range metrics.collectors() {
				if c == nil {
					t.Errorf("collector %d not created", i)
				}
			}
		})
	}
}

func TestMetricsRegister(t *testing.T) {
	registry := prometheus.NewRegistry()

	metrics, err := NewMetrics("test", nil)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	if err := metrics.Register(registry); err != nil {
		t.Errorf("failed to register metrics: %v", err)
	}

	// Test double registration (should fail)
	if err := metrics.Register(registry); err == nil {
		t.Errorf("expected error when registering metrics twice")
	}
}

func TestMetricsUnregister(t *testing.T) {
	registry := prometheus.NewRegistry()

	metrics, err := NewMetrics("test", nil)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	if err := metrics.Register(registry); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}

	metrics.Unregister(registry)

	// Should be able to register again after unregistering
	if err := metrics.Register(registry); err != nil {
		t.Errorf("failed to re-register metrics after unregistering: %v", err)
	}
}

func TestMetricNames(t *testing.T) {
	registry := prometheus.NewRegistry()

	metrics, err := NewMetrics("test", prometheus.Labels{"env": "test"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	if err := metrics.Register(registry); err != nil {
		t.Fatalf("failed to register metrics: %v", err)
	}

	metrics.PingsTotal.Inc()
	metrics.ProbeFailuresTotal.WithLabelValues("Timeout").Inc()
	metrics.StateTransitionsTotal.WithLabelValues("alive", "down").Inc()
	metrics.RemediationsTotal.WithLabelValues("success").Inc()
	metrics.RebootsTotal.Inc()
	metrics.Up.Set(1)
	metrics.ConsecutiveFailures.Set(2)
	metrics.Info.WithLabelValues("1.0.0", "go1.23").Set(1)
	metrics.StartTimeSeconds.Set(1640995200)
	metrics.ProbeDuration.Observe(0.2)
	metrics.RemediationDuration.Observe(305)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := make(map[string]bool)
	for _, mf := range metricFamilies {
		found[mf.GetName()] = true
	}

	expected := []string{
		"test_pings_total",
		"test_probe_failures_total",
		"test_state_transitions_total",
		"test_remediations_total",
		"test_reboots_total",
		"test_up",
		"test_consecutive_failures",
		"test_info",
		"test_start_time_seconds",
		"test_probe_duration_seconds",
		"test_remediation_duration_seconds",
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("expected metric %s not found", name)
		}
	}

	if got := testutil.ToFloat64(metrics.ConsecutiveFailures); got != 2 {
		t.Errorf("consecutive_failures = %v, want 2", got)
	}
}

func TestIsValidMetricName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "hass_watchdog", true},
		{"with colon", "hass:watchdog", true},
		{"leading underscore", "_internal", true},
		{"with digits", "watchdog2", true},
		{"empty", "", false},
		{"leading digit", "2watchdog", false},
		{"dash", "hass-watchdog", false},
		{"space", "hass watchdog", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidMetricName(tt.input); got != tt.want {
				t.Errorf("isValidMetricName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
