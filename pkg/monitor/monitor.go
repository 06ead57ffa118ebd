// Package monitor owns the alive/down judgment of the watched service.
//
// HealthMonitor turns a stream of probe results into a two-state machine.
// Every failed probe increments a consecutive-failure counter; the first time
// the counter exceeds the configured threshold while the service is alive,
// the machine moves to down. Any successful probe resets the counter and
// moves the machine back to alive. Remediation never changes the state
// directly; the next successful probe does.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// State machine events.
const (
	EventThresholdExceeded = "threshold_exceeded"
	EventProbeSucceeded    = "probe_succeeded"
)

// Logger is the logging interface used by the monitor.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// HealthMonitor tracks the health state, the failure counter and the
// statistics of one monitored service.
type HealthMonitor struct {
	mu        sync.RWMutex
	prober    types.Prober
	threshold int
	failures  int
	machine   *fsm.FSM
	stats     *Statistics
	observer  types.StateObserver
	logger    Logger
	now       func() time.Time
}

// Option customises a HealthMonitor.
type Option func(*HealthMonitor)

// WithLogger sets the logger used for state transitions.
func WithLogger(l Logger) Option {
	return func(m *HealthMonitor) {
		m.logger = l
	}
}

// WithObserver registers a StateObserver.
func WithObserver(o types.StateObserver) Option {
	return func(m *HealthMonitor) {
		m.observer = o
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *HealthMonitor) {
		m.now = now
	}
}

// New creates a HealthMonitor in the alive state.
// maxFailedResponses is the number of consecutive failures tolerated.
func New(prober types.Prober, maxFailedResponses int, opts ...Option) (*HealthMonitor, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if maxFailedResponses < 0 {
		return nil, fmt.Errorf("maxFailedResponses must not be negative, got %d", maxFailedResponses)
	}

	m := &HealthMonitor{
		prober:    prober,
		threshold: maxFailedResponses,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.stats = NewStatistics(m.now())

	m.machine = fsm.NewFSM(
		string(types.StateAlive),
		fsm.Events{
			{Name: EventThresholdExceeded, Src: []string{string(types.StateAlive)}, Dst: string(types.StateDown)},
			{Name: EventProbeSucceeded, Src: []string{string(types.StateDown)}, Dst: string(types.StateAlive)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if m.logger != nil {
					m.logger.Warnf("Health state changed: %s -> %s", e.Src, e.Dst)
				}
			},
		},
	)

	return m, nil
}

// Check runs one probe and updates the failure counter, the statistics and
// the state. It returns the resulting state.
//
// A probe that fails because ctx was cancelled says nothing about the
// service: the counter, the statistics and the state are left as they were.
func (m *HealthMonitor) Check(ctx context.Context) types.HealthState {
	start := m.now()
	probeErr := m.prober.Probe(ctx)
	duration := m.now().Sub(start)

	if probeErr != nil && ctx.Err() != nil {
		if m.logger != nil {
			m.logger.Infof("Probe interrupted, result discarded: %v", probeErr)
		}
		return m.currentState()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.IncrementPingCount()

	from := m.currentState()
	if probeErr == nil {
		m.failures = 0
		if from == types.StateDown {
			m.fire(ctx, EventProbeSucceeded)
		}
	} else {
		m.failures++
		m.stats.RecordFailure(m.now())
		if from == types.StateAlive && m.failures > m.threshold {
			m.fire(ctx, EventThresholdExceeded)
		}
	}

	to := m.currentState()
	if m.observer != nil {
		m.observer.ObserveCheck(to, m.failures, probeErr, duration)
		if from != to {
			m.observer.ObserveTransition(from, to)
		}
	}
	return to
}

// fire triggers a transition whose source state the caller already checked.
func (m *HealthMonitor) fire(ctx context.Context, event string) {
	// A decided transition must not be dropped on shutdown.
	if err := m.machine.Event(context.WithoutCancel(ctx), event); err != nil && m.logger != nil {
		m.logger.Warnf("State transition %s failed: %v", event, err)
	}
}

func (m *HealthMonitor) currentState() types.HealthState {
	return types.HealthState(m.machine.Current())
}

// State returns the current health state.
func (m *HealthMonitor) State() types.HealthState {
	return m.currentState()
}

// IsAlive reports whether the service is currently judged alive.
func (m *HealthMonitor) IsAlive() bool {
	return m.currentState().IsAlive()
}

// Failures returns the number of consecutive failed probes.
func (m *HealthMonitor) Failures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures
}

// Threshold returns the configured failure threshold.
func (m *HealthMonitor) Threshold() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold
}

// SetMaxFailedResponses changes the failure threshold. It takes effect on the
// next Check and never changes the current state by itself.
func (m *HealthMonitor) SetMaxFailedResponses(n int) error {
	if n < 0 {
		return fmt.Errorf("maxFailedResponses must not be negative, got %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = n
	return nil
}

// Statistics returns the statistics owned by this monitor. The remediation
// controller records reboots through it.
func (m *HealthMonitor) Statistics() *Statistics {
	return m.stats
}

// Stats returns a snapshot of the statistics together with the current state
// and failure counter.
func (m *HealthMonitor) Stats() types.StatisticsSnapshot {
	snap := m.stats.Snapshot()
	snap.State = m.currentState()
	snap.Failures = m.Failures()
	return snap
}
