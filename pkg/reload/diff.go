package reload

import (
	"github.com/supporttools/hass-watchdog/pkg/types"
)

// ConfigDiff represents the differences between two configurations.
type ConfigDiff struct {
	// TunablesChanged is set when the loop section changed. These settings
	// are applied between cycles.
	TunablesChanged bool

	// LogLevelChanged is set when settings.logLevel changed.
	LogLevelChanged bool

	// RestartRequired names the changed sections that only take effect at
	// startup.
	RestartRequired []string
}

// ComputeConfigDiff calculates the differences between old and new configurations.
func ComputeConfigDiff(oldConfig, newConfig *types.WatchdogConfig) *ConfigDiff {
	diff := &ConfigDiff{
		RestartRequired: make([]string, 0),
	}

	diff.TunablesChanged = !loopEqual(&oldConfig.Watchdog, &newConfig.Watchdog)
	diff.LogLevelChanged = oldConfig.Settings.LogLevel != newConfig.Settings.LogLevel

	oldSettings, newSettings := oldConfig.Settings, newConfig.Settings
	oldSettings.LogLevel, newSettings.LogLevel = "", ""
	if oldSettings != newSettings {
		diff.RestartRequired = append(diff.RestartRequired, "settings")
	}
	if oldConfig.Target != newConfig.Target {
		diff.RestartRequired = append(diff.RestartRequired, "target")
	}
	if !relayEqual(&oldConfig.Relay, &newConfig.Relay) {
		diff.RestartRequired = append(diff.RestartRequired, "relay")
	}
	if oldConfig.Status != newConfig.Status {
		diff.RestartRequired = append(diff.RestartRequired, "status")
	}
	if oldConfig.Metrics != newConfig.Metrics {
		diff.RestartRequired = append(diff.RestartRequired, "metrics")
	}
	if oldConfig.Reload.Enabled != newConfig.Reload.Enabled ||
		oldConfig.Reload.DebounceInterval != newConfig.Reload.DebounceInterval {
		diff.RestartRequired = append(diff.RestartRequired, "reload")
	}

	return diff
}

// HasChanges returns true if there are any configuration changes.
func (d *ConfigDiff) HasChanges() bool {
	return d.TunablesChanged ||
		d.LogLevelChanged ||
		len(d.RestartRequired) > 0
}

// HasLiveChanges returns true if some changes can be applied without a restart.
func (d *ConfigDiff) HasLiveChanges() bool {
	return d.TunablesChanged || d.LogLevelChanged
}

// loopEqual compares the effective loop settings, ignoring how durations
// were spelled in the file.
func loopEqual(a, b *types.LoopConfig) bool {
	return a.Threshold() == b.Threshold() &&
		a.SleepTime == b.SleepTime &&
		a.ResetSleepTime == b.ResetSleepTime &&
		a.SettleDelay == b.SettleDelay &&
		a.ProbeTimeout == b.ProbeTimeout &&
		a.StatsEvery == b.StatsEvery
}

func relayEqual(a, b *types.RelayConfig) bool {
	if a.ID != b.ID || a.Driver != b.Driver {
		return false
	}

	if (a.Shelly == nil) != (b.Shelly == nil) {
		return false
	}
	if a.Shelly != nil && *a.Shelly != *b.Shelly {
		return false
	}

	if (a.Modbus == nil) != (b.Modbus == nil) {
		return false
	}
	if a.Modbus != nil && *a.Modbus != *b.Modbus {
		return false
	}

	return true
}
