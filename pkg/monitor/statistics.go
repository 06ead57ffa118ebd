package monitor

import (
	"sync"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Statistics tracks process-lifetime counters for the watchdog.
// All methods are thread-safe and can be called concurrently.
type Statistics struct {
	mu                   sync.RWMutex // Protects all fields
	startTime            time.Time    // When the watchdog started; immutable
	pingCount            int64        // Health determinations performed
	accumulativeFailures int64        // Failed probes over the process lifetime
	lastFailureTime      *time.Time   // Most recent failed probe
	reboots              int64        // Completed power cycles
	lastRebootTime       *time.Time   // Most recent completed power cycle
	remediationAttempts  int64        // Reset calls, successful or not
	remediationFailures  int64        // Reset calls that did not complete
	lastRemediationError string       // Error of the most recent failed reset
}

// NewStatistics creates a new Statistics instance started at the given time.
func NewStatistics(startTime time.Time) *Statistics {
	return &Statistics{
		startTime: startTime,
	}
}

// IncrementPingCount records one health determination.
func (s *Statistics) IncrementPingCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingCount++
}

// RecordFailure records a failed probe at the given time.
func (s *Statistics) RecordFailure(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accumulativeFailures++
	s.lastFailureTime = &at
}

// RecordRemediationAttempt records the start of a reset.
func (s *Statistics) RecordRemediationAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remediationAttempts++
}

// RecordRemediationFailure records a reset that did not complete.
// Reboot counters are left untouched.
func (s *Statistics) RecordRemediationFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remediationFailures++
	if err != nil {
		s.lastRemediationError = err.Error()
	}
}

// RecordReboot records a completed power cycle at the given time.
func (s *Statistics) RecordReboot(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reboots++
	s.lastRebootTime = &at
}

// GetPingCount returns the number of health determinations performed.
func (s *Statistics) GetPingCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingCount
}

// GetAccumulativeFailures returns the number of failed probes.
func (s *Statistics) GetAccumulativeFailures() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accumulativeFailures
}

// GetReboots returns the number of completed power cycles.
func (s *Statistics) GetReboots() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reboots
}

// GetStartTime returns when the watchdog started.
func (s *Statistics) GetStartTime() time.Time {
	return s.startTime
}

// Snapshot returns a consistent copy of all counters. State and Failures are
// left zero; HealthMonitor.Stats fills them in.
func (s *Statistics) Snapshot() types.StatisticsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return types.StatisticsSnapshot{
		StartTime:            s.startTime,
		PingCount:            s.pingCount,
		AccumulativeFailures: s.accumulativeFailures,
		LastFailureTime:      copyTime(s.lastFailureTime),
		Reboots:              s.reboots,
		LastRebootTime:       copyTime(s.lastRebootTime),
		RemediationAttempts:  s.remediationAttempts,
		RemediationFailures:  s.remediationFailures,
		LastRemediationError: s.lastRemediationError,
	}
}

// Summary returns the statistics as a flat map for structured logging.
func (s *Statistics) Summary() map[string]interface{} {
	snap := s.Snapshot()

	summary := map[string]interface{}{
		"start_time":            snap.StartTime.Format(time.RFC3339),
		"uptime":                snap.Uptime().Round(time.Second).String(),
		"ping_count":            snap.PingCount,
		"accumulative_failures": snap.AccumulativeFailures,
		"reboots":               snap.Reboots,
		"remediation_attempts":  snap.RemediationAttempts,
		"remediation_failures":  snap.RemediationFailures,
		"last_failure_time":     formatOptional(snap.LastFailureTime),
		"last_reboot_time":      formatOptional(snap.LastRebootTime),
	}
	if snap.LastRemediationError != "" {
		summary["last_remediation_error"] = snap.LastRemediationError
	}
	return summary
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
