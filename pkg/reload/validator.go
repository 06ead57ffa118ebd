package reload

import (
	"fmt"
	"strings"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string // Field path (e.g., "watchdog.sleepTime")
	Message string // Human-readable error message
}

// ValidationResult contains the result of configuration validation
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ConfigValidator applies the limits a configuration must respect to be
// accepted by a live reload. util.LoadConfig has already checked the file is
// a valid configuration; these limits guard against values that would stall
// the running watchdog.
type ConfigValidator struct {
	maxFailedResponses int
	maxSleepTime       time.Duration
	maxResetSleepTime  time.Duration
}

// NewConfigValidator creates a new configuration validator with default limits
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		maxFailedResponses: 1000,
		maxSleepTime:       time.Hour,
		maxResetSleepTime:  time.Hour,
	}
}

// NewConfigValidatorWithLimits creates a new configuration validator with custom limits
func NewConfigValidatorWithLimits(maxFailedResponses int, maxSleepTime, maxResetSleepTime time.Duration) *ConfigValidator {
	return &ConfigValidator{
		maxFailedResponses: maxFailedResponses,
		maxSleepTime:       maxSleepTime,
		maxResetSleepTime:  maxResetSleepTime,
	}
}

// Validate validates a configuration, collecting every violation.
func (v *ConfigValidator) Validate(config *types.WatchdogConfig) *ValidationResult {
	result := &ValidationResult{Valid: true, Errors: []ValidationError{}}

	if config == nil {
		v.addError(result, "config", "configuration cannot be nil")
		return result
	}

	v.validateLoop(&config.Watchdog, "watchdog", result)

	return result
}

func (v *ConfigValidator) validateLoop(loop *types.LoopConfig, prefix string, result *ValidationResult) {
	if n := loop.Threshold(); n < 0 {
		v.addError(result, prefix+".maxFailedResponses", fmt.Sprintf("must not be negative, got %d", n))
	} else if n > v.maxFailedResponses {
		v.addError(result, prefix+".maxFailedResponses", fmt.Sprintf("%d exceeds limit of %d", n, v.maxFailedResponses))
	}

	if loop.SleepTime <= 0 {
		v.addError(result, prefix+".sleepTime", "must be positive")
	} else if loop.SleepTime > v.maxSleepTime {
		v.addError(result, prefix+".sleepTime", fmt.Sprintf("%v exceeds limit of %v", loop.SleepTime, v.maxSleepTime))
	}

	if loop.ResetSleepTime <= 0 {
		v.addError(result, prefix+".resetSleepTime", "must be positive")
	} else if loop.ResetSleepTime > v.maxResetSleepTime {
		v.addError(result, prefix+".resetSleepTime", fmt.Sprintf("%v exceeds limit of %v", loop.ResetSleepTime, v.maxResetSleepTime))
	}

	if loop.SettleDelay <= 0 {
		v.addError(result, prefix+".settleDelay", "must be positive")
	}

	if loop.ProbeTimeout <= 0 {
		v.addError(result, prefix+".probeTimeout", "must be positive")
	} else if loop.SleepTime > 0 && loop.ProbeTimeout >= loop.SleepTime {
		v.addError(result, prefix+".probeTimeout", fmt.Sprintf("%v must be less than sleepTime %v", loop.ProbeTimeout, loop.SleepTime))
	}

	if loop.StatsEvery < 0 {
		v.addError(result, prefix+".statsEvery", fmt.Sprintf("must not be negative, got %d", loop.StatsEvery))
	}
}

func (v *ConfigValidator) addError(result *ValidationResult, field, message string) {
	result.Valid = false
	result.Errors = append(result.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// FormatValidationErrors formats validation errors into a readable string
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}

	if len(errors) == 1 {
		return fmt.Sprintf("%s: %s", errors[0].Field, errors[0].Message)
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):", len(errors)))
	for _, err := range errors {
		result.WriteString(fmt.Sprintf("\n  - %s: %s", err.Field, err.Message))
	}
	return result.String()
}
