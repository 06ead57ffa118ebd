// Package watchdog drives the probe/remediate cycle.
//
// Each cycle checks health, power-cycles the host when the monitor reports
// it down, then sleeps. Remediation errors are logged and never stop the
// loop; only context cancellation does.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/hass-watchdog/pkg/remediators"
	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Monitor is the health monitor driven by the loop.
type Monitor interface {
	Check(ctx context.Context) types.HealthState
	Stats() types.StatisticsSnapshot
	SetMaxFailedResponses(n int) error
}

// Remediator power-cycles the monitored host.
type Remediator interface {
	Reset(ctx context.Context) error
}

// delaySetter and timeoutSetter are implemented by components whose timing
// can be changed by a configuration reload.
type delaySetter interface {
	SetDelays(settle, recovery time.Duration)
}

type timeoutSetter interface {
	SetTimeout(d time.Duration)
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds the loop settings.
type Config struct {
	SleepTime time.Duration

	// StatsEvery is the number of cycles between full statistics reports.
	// Zero disables the report.
	StatsEvery int
}

// Tunables are the settings a configuration reload may change while the
// loop is running.
type Tunables struct {
	MaxFailedResponses int
	SleepTime          time.Duration
	ResetSleepTime     time.Duration
	SettleDelay        time.Duration
	ProbeTimeout       time.Duration
	StatsEvery         int
}

// TunablesFrom extracts the reloadable settings from a loop configuration.
// ApplyDefaults must have been called on cfg.
func TunablesFrom(cfg types.LoopConfig) Tunables {
	return Tunables{
		MaxFailedResponses: cfg.Threshold(),
		SleepTime:          cfg.SleepTime,
		ResetSleepTime:     cfg.ResetSleepTime,
		SettleDelay:        cfg.SettleDelay,
		ProbeTimeout:       cfg.ProbeTimeout,
		StatsEvery:         cfg.StatsEvery,
	}
}

// Loop is the watchdog control loop.
type Loop struct {
	monitor    Monitor
	remediator Remediator
	prober     timeoutSetter
	logger     logrus.FieldLogger
	sleep      Sleeper

	sleepTime  time.Duration
	statsEvery int
	cycles     int

	pendingMu sync.Mutex
	pending   *Tunables
}

// Option customises a Loop.
type Option func(*Loop)

// WithSleeper replaces the wait between cycles, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(l *Loop) { l.sleep = s }
}

// WithProber registers the prober so reloads can change its timeout.
func WithProber(p interface{ SetTimeout(time.Duration) }) Option {
	return func(l *Loop) { l.prober = p }
}

// New creates a loop.
func New(monitor Monitor, remediator Remediator, cfg Config, logger logrus.FieldLogger, opts ...Option) (*Loop, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if remediator == nil {
		return nil, fmt.Errorf("remediator cannot be nil")
	}
	if cfg.SleepTime <= 0 {
		return nil, fmt.Errorf("sleep time must be positive, got %v", cfg.SleepTime)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	l := &Loop{
		monitor:    monitor,
		remediator: remediator,
		logger:     logger,
		sleep:      sleepContext,
		sleepTime:  cfg.SleepTime,
		statsEvery: cfg.StatsEvery,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run executes cycles until ctx is cancelled. The cycle in flight when ctx
// ends completes its bookkeeping before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infof("Watchdog loop started (sleep %v)", l.sleepTime)

	for {
		if ctx.Err() != nil {
			break
		}

		_, _ = l.RunOnce(ctx)

		l.logger.Debugf("Sleeping for %v", l.sleepTime)
		if err := l.sleep(ctx, l.sleepTime); err != nil {
			break
		}
	}

	l.logger.Infof("Watchdog loop stopped after %d cycles", l.cycles)
	return nil
}

// RunOnce runs a single cycle and returns the resulting state along with
// the remediation error, if remediation ran and failed.
func (l *Loop) RunOnce(ctx context.Context) (types.HealthState, error) {
	l.applyPending()
	l.cycles++

	state := l.monitor.Check(ctx)
	stats := l.monitor.Stats()

	entry := l.logger.WithFields(logrus.Fields{
		"cycle":      l.cycles,
		"state":      state,
		"failures":   stats.Failures,
		"ping_count": stats.PingCount,
	})
	if state.IsAlive() {
		entry.Infof("Check #%d: %s", l.cycles, state)
	} else {
		entry.Warnf("Check #%d: %s, resetting host", l.cycles, state)
	}

	var remErr error
	switch {
	case state.IsAlive():
	case ctx.Err() != nil:
		l.logger.Infof("Shutting down, remediation skipped")
	default:
		remErr = l.remediator.Reset(ctx)
		switch {
		case remErr == nil:
		case errors.Is(remErr, remediators.ErrDeviceNotReady):
			l.logger.Warnf("Remediation skipped: %v", remErr)
		default:
			l.logger.WithError(remErr).Errorf("Remediation failed")
		}
	}

	if l.statsEvery > 0 && l.cycles%l.statsEvery == 0 {
		l.reportStats()
	}

	return state, remErr
}

// Cycles returns the number of cycles run so far.
func (l *Loop) Cycles() int {
	return l.cycles
}

// ApplyTunables queues new settings. They take effect at the start of the
// next cycle; a newer call replaces a queued one. Safe for concurrent use.
func (l *Loop) ApplyTunables(t Tunables) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	l.pending = &t
}

func (l *Loop) applyPending() {
	l.pendingMu.Lock()
	t := l.pending
	l.pending = nil
	l.pendingMu.Unlock()

	if t == nil {
		return
	}

	if err := l.monitor.SetMaxFailedResponses(t.MaxFailedResponses); err != nil {
		l.logger.Warnf("Ignoring maxFailedResponses from reload: %v", err)
	}
	if t.SleepTime > 0 {
		l.sleepTime = t.SleepTime
	}
	if t.StatsEvery >= 0 {
		l.statsEvery = t.StatsEvery
	}
	if ds, ok := l.remediator.(delaySetter); ok {
		ds.SetDelays(t.SettleDelay, t.ResetSleepTime)
	}
	if l.prober != nil {
		l.prober.SetTimeout(t.ProbeTimeout)
	}

	l.logger.WithFields(logrus.Fields{
		"max_failed_responses": t.MaxFailedResponses,
		"sleep_time":           t.SleepTime,
		"reset_sleep_time":     t.ResetSleepTime,
	}).Infof("Applied reloaded configuration")
}

func (l *Loop) reportStats() {
	s := l.monitor.Stats()
	l.logger.WithFields(logrus.Fields{
		"uptime":                s.Uptime().Round(time.Second).String(),
		"ping_count":            s.PingCount,
		"accumulative_failures": s.AccumulativeFailures,
		"last_failure_time":     formatTime(s.LastFailureTime),
		"reboots":               s.Reboots,
		"last_reboot_time":      formatTime(s.LastRebootTime),
		"remediation_failures":  s.RemediationFailures,
	}).Infof("Statistics since %s", s.StartTime.Format(time.RFC3339))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
