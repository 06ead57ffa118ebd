package remediators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Logger provides optional logging functionality for remediators.
type Logger interface {
	// Infof logs an informational message with formatting
	Infof(format string, args ...interface{})

	// Warnf logs a warning message with formatting
	Warnf(format string, args ...interface{})

	// Errorf logs an error message with formatting
	Errorf(format string, args ...interface{})
}

// SwitchSource yields the bound power switch, if any. relay.Binder
// implements it.
type SwitchSource interface {
	Handle() (types.PowerSwitch, bool)
}

// StatsRecorder receives remediation outcomes. monitor.Statistics
// implements it.
type StatsRecorder interface {
	RecordRemediationAttempt()
	RecordRemediationFailure(err error)
	RecordReboot(at time.Time)
}

// Observer is notified after every Reset call that reached the relay.
type Observer interface {
	ObserveRemediation(err error, duration time.Duration)
}

// Sleeper waits for d or until ctx ends, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// Relay operations reported in RemediationIOError.Op.
const (
	OpPowerOff = "power-off"
	OpPowerOn  = "power-on"
)

// Default delays of the power-cycle sequence.
const (
	// DefaultSettleDelay is the wait between power-off and power-on.
	DefaultSettleDelay = 5 * time.Second

	// DefaultRecoveryDelay is the wait after power-on before health checks resume.
	DefaultRecoveryDelay = 300 * time.Second
)

// ErrDeviceNotReady is returned when no relay has been discovered yet.
var ErrDeviceNotReady = errors.New("relay device not found yet")

// RemediationIOError is returned when a relay command fails. The sequence
// is aborted at Op and no statistics are recorded as a reboot.
type RemediationIOError struct {
	Op  string
	Err error
}

func (e *RemediationIOError) Error() string {
	return fmt.Sprintf("relay %s failed: %v", e.Op, e.Err)
}

func (e *RemediationIOError) Unwrap() error {
	return e.Err
}

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
