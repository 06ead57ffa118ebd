package remediators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Config holds the power-cycle tunables.
type Config struct {
	SettleDelay   time.Duration
	RecoveryDelay time.Duration

	// DryRun logs the sequence without touching the relay or waiting.
	DryRun bool
}

// PowerCycleRemediator restarts the monitored host by switching its relay
// off, waiting SettleDelay, switching it on and waiting RecoveryDelay.
//
// Reset is safe to call from several goroutines; calls are serialized.
type PowerCycleRemediator struct {
	name     string
	switches SwitchSource
	stats    StatsRecorder

	// Optional components
	logger   Logger
	observer Observer
	sleep    Sleeper
	now      func() time.Time

	mu            sync.Mutex // serializes Reset and guards the delays
	settleDelay   time.Duration
	recoveryDelay time.Duration
	dryRun        bool
}

// Option customises a PowerCycleRemediator.
type Option func(*PowerCycleRemediator)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *PowerCycleRemediator) { r.logger = l }
}

// WithObserver sets the remediation observer.
func WithObserver(o Observer) Option {
	return func(r *PowerCycleRemediator) { r.observer = o }
}

// WithSleeper replaces the timed waits, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(r *PowerCycleRemediator) { r.sleep = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *PowerCycleRemediator) { r.now = now }
}

// NewPowerCycleRemediator creates a remediator.
//
// Parameters:
//   - switches: where the bound relay is looked up on every Reset
//   - stats: receives attempts, failures and completed reboots
//   - cfg: delays; zero values fall back to the defaults
func NewPowerCycleRemediator(switches SwitchSource, stats StatsRecorder, cfg Config, opts ...Option) (*PowerCycleRemediator, error) {
	if switches == nil {
		return nil, fmt.Errorf("switch source cannot be nil")
	}
	if stats == nil {
		return nil, fmt.Errorf("stats recorder cannot be nil")
	}
	if cfg.SettleDelay < 0 || cfg.RecoveryDelay < 0 {
		return nil, fmt.Errorf("delays must not be negative, got settle=%v recovery=%v", cfg.SettleDelay, cfg.RecoveryDelay)
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.RecoveryDelay == 0 {
		cfg.RecoveryDelay = DefaultRecoveryDelay
	}

	r := &PowerCycleRemediator{
		name:          "power-cycle",
		switches:      switches,
		stats:         stats,
		sleep:         sleepContext,
		now:           time.Now,
		settleDelay:   cfg.SettleDelay,
		recoveryDelay: cfg.RecoveryDelay,
		dryRun:        cfg.DryRun,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SetDelays changes the settle and recovery delays for subsequent resets.
// Non-positive values are ignored.
func (r *PowerCycleRemediator) SetDelays(settle, recovery time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if settle > 0 {
		r.settleDelay = settle
	}
	if recovery > 0 {
		r.recoveryDelay = recovery
	}
}

// Delays returns the current settle and recovery delays.
func (r *PowerCycleRemediator) Delays() (settle, recovery time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settleDelay, r.recoveryDelay
}

// Reset runs one power cycle.
//
// It returns ErrDeviceNotReady without waiting or recording anything when no
// relay is bound, and ctx.Err() without touching the relay when ctx is
// already done. Once the relay is switched off the sequence ignores
// cancellation until power is restored; only the recovery delay stops
// early. A failing relay command aborts the sequence with a
// *RemediationIOError. A reboot is recorded only after the recovery delay
// has fully elapsed.
func (r *PowerCycleRemediator) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sw, ok := r.switches.Handle()
	if !ok {
		r.logErrorf("Cannot reset: %v", ErrDeviceNotReady)
		return ErrDeviceNotReady
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if r.dryRun {
		r.logInfof("Dry run: would power off, wait %v, power on, wait %v", r.settleDelay, r.recoveryDelay)
		return nil
	}

	start := r.now()
	r.stats.RecordRemediationAttempt()

	err := r.cycle(ctx, sw)
	if r.observer != nil {
		r.observer.ObserveRemediation(err, r.now().Sub(start))
	}
	if err != nil {
		r.stats.RecordRemediationFailure(err)
		r.logErrorf("Reset failed: %v", err)
		return err
	}

	r.stats.RecordReboot(r.now())
	r.logInfof("Reset completed")
	return nil
}

func (r *PowerCycleRemediator) cycle(ctx context.Context, sw types.PowerSwitch) error {
	// The host must not be left without power on shutdown.
	powerCtx := context.WithoutCancel(ctx)

	r.logInfof("Turning off relay")
	if err := r.invoke(powerCtx, OpPowerOff, sw.PowerOff); err != nil {
		return err
	}

	if err := r.sleep(powerCtx, r.settleDelay); err != nil {
		return fmt.Errorf("interrupted before power-on: %w", err)
	}

	r.logInfof("Turning on relay")
	if err := r.invoke(powerCtx, OpPowerOn, sw.PowerOn); err != nil {
		return err
	}

	r.logInfof("Waiting %v to check health again", r.recoveryDelay)
	if err := r.sleep(ctx, r.recoveryDelay); err != nil {
		return fmt.Errorf("interrupted during recovery delay: %w", err)
	}
	return nil
}

// invoke runs one relay command with panic recovery.
func (r *PowerCycleRemediator) invoke(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RemediationIOError{Op: op, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if err := fn(ctx); err != nil {
		return &RemediationIOError{Op: op, Err: err}
	}
	return nil
}

// logInfof logs an informational message if a logger is configured.
func (r *PowerCycleRemediator) logInfof(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Infof("[%s] "+format, append([]interface{}{r.name}, args...)...)
	}
}

// logErrorf logs an error message if a logger is configured.
func (r *PowerCycleRemediator) logErrorf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Errorf("[%s] "+format, append([]interface{}{r.name}, args...)...)
	}
}
