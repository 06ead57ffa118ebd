// Package types defines the core types shared across hass-watchdog packages.
package types

import (
	"context"
	"time"
)

// HealthState is the binary alive/down judgment of the monitored service.
type HealthState string

const (
	// StateAlive means the last probe episode did not cross the failure threshold.
	StateAlive HealthState = "alive"

	// StateDown means the failure threshold was exceeded and no probe has succeeded since.
	StateDown HealthState = "down"
)

// String implements fmt.Stringer.
func (s HealthState) String() string {
	return string(s)
}

// IsAlive reports whether s is StateAlive.
func (s HealthState) IsAlive() bool {
	return s == StateAlive
}

// Prober performs one health determination against the target service.
// A nil error means every check in the sequence succeeded.
type Prober interface {
	Probe(ctx context.Context) error
}

// PowerSwitch is the remediation capability exposed by a relay device.
type PowerSwitch interface {
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
}

// StatisticsSnapshot is a point-in-time copy of the watchdog statistics.
// Nil time pointers mean the event has not happened yet.
type StatisticsSnapshot struct {
	StartTime            time.Time  `json:"startTime"`
	PingCount            int64      `json:"pingCount"`
	AccumulativeFailures int64      `json:"accumulativeFailures"`
	LastFailureTime      *time.Time `json:"lastFailureTime,omitempty"`
	Reboots              int64      `json:"reboots"`
	LastRebootTime       *time.Time `json:"lastRebootTime,omitempty"`

	RemediationAttempts  int64  `json:"remediationAttempts"`
	RemediationFailures  int64  `json:"remediationFailures"`
	LastRemediationError string `json:"lastRemediationError,omitempty"`

	State    HealthState `json:"state"`
	Failures int         `json:"failures"`
}

// Uptime returns how long the watchdog has been running as of now.
func (s StatisticsSnapshot) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// StateObserver is notified after every health determination.
// Implementations must not block; they run on the watchdog loop.
type StateObserver interface {
	ObserveCheck(state HealthState, failures int, probeErr error, duration time.Duration)
	ObserveTransition(from, to HealthState)
}
