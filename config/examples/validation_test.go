package examples_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
	"github.com/supporttools/hass-watchdog/pkg/util"
)

// noOverrides keeps the legacy environment overrides out of the way so the
// files are checked as written. ${VAR} expansion still uses the real
// environment.
func noOverrides(string) (string, bool) { return "", false }

// TestExampleConfigs validates all example configuration files
// This ensures that:
// 1. All example configs can be loaded without errors
// 2. All configs pass validation
// 3. Default values are applied correctly
// 4. Environment variable substitution works
func TestExampleConfigs(t *testing.T) {
	t.Setenv("HASS_URL", "http://homeassistant.local:8123")
	t.Setenv("WATCHDOG_WEBHOOK", "watchdog-test")
	t.Setenv("SHELLY_RELAY_ID", "shelly1-AABBCC")
	t.Setenv("MQTT_USERNAME", "watchdog")
	t.Setenv("MQTT_PASSWORD", "secret")

	testCases := []struct {
		name        string
		filename    string
		description string
		driver      string
		relayID     string
		check       func(*testing.T, *types.WatchdogConfig)
	}{
		{
			name:        "ShellyMQTT",
			filename:    "shelly-mqtt.yaml",
			description: "Shelly relay over MQTT with every section spelled out",
			driver:      types.DriverShelly,
			relayID:     "shelly1-AABBCC",
			check: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Relay.Shelly.Username != "watchdog" {
					t.Errorf("shelly.username = %q, env var not substituted?", c.Relay.Shelly.Username)
				}
				if !c.Reload.Enabled || c.Reload.DebounceInterval != 500*time.Millisecond {
					t.Errorf("unexpected reload settings: %+v", c.Reload)
				}
			},
		},
		{
			name:        "ShellyHTTP",
			filename:    "shelly-http.yaml",
			description: "Shelly relay switched through its HTTP API, bare-second durations",
			driver:      types.DriverShelly,
			relayID:     "shelly1-AABBCC",
			check: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Relay.Shelly.Transport != types.TransportHTTP {
					t.Errorf("shelly.transport = %q, want http", c.Relay.Shelly.Transport)
				}
				if c.Watchdog.SleepTime != time.Minute {
					t.Errorf("sleepTime = %v, want 1m", c.Watchdog.SleepTime)
				}
				if c.Relay.Shelly.HTTPRetries != 3 {
					t.Errorf("shelly.httpRetries = %d, want 3", c.Relay.Shelly.HTTPRetries)
				}
			},
		},
		{
			name:        "Modbus",
			filename:    "modbus.yaml",
			description: "Modbus TCP coil relay in dry-run mode",
			driver:      types.DriverModbus,
			relayID:     "rack-relay",
			check: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Relay.Modbus.Coil != 4 || c.Relay.Modbus.Timeout != 2*time.Second {
					t.Errorf("unexpected modbus settings: %+v", c.Relay.Modbus)
				}
				if !c.Settings.DryRun {
					t.Error("dryRun should be enabled")
				}
			},
		},
		{
			name:        "Minimal",
			filename:    "minimal.yaml",
			description: "Bare minimum configuration",
			driver:      types.DriverShelly,
			relayID:     "shelly1-AABBCC",
			check: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Watchdog.Threshold() != types.DefaultMaxFailedResponses {
					t.Errorf("threshold = %d, want default", c.Watchdog.Threshold())
				}
				if c.Watchdog.ResetSleepTime != 300*time.Second {
					t.Errorf("resetSleepTime = %v, want 300s", c.Watchdog.ResetSleepTime)
				}
				if c.Relay.Shelly.Broker != types.DefaultMQTTBroker {
					t.Errorf("shelly.broker = %q, want default", c.Relay.Shelly.Broker)
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			configPath := filepath.Join(".", tc.filename)

			config, err := util.LoadConfigWithEnv(configPath, noOverrides)
			if err != nil {
				t.Fatalf("Failed to load %s (%s): %v", tc.name, tc.description, err)
			}

			if config.Kind != "WatchdogConfig" {
				t.Errorf("%s: kind is %q, expected 'WatchdogConfig'", tc.name, config.Kind)
			}
			if config.Target.HassURL == "" || config.Target.HassURL == "${HASS_URL}" {
				t.Errorf("%s: target.hassURL was not substituted: %q", tc.name, config.Target.HassURL)
			}
			if config.Relay.Driver != tc.driver {
				t.Errorf("%s: relay.driver is %q, expected %q", tc.name, config.Relay.Driver, tc.driver)
			}
			if config.Relay.ID != tc.relayID {
				t.Errorf("%s: relay.id is %q, expected %q", tc.name, config.Relay.ID, tc.relayID)
			}

			if config.Watchdog.ProbeTimeout >= config.Watchdog.SleepTime {
				t.Errorf("%s: probeTimeout (%v) >= sleepTime (%v)",
					tc.name, config.Watchdog.ProbeTimeout, config.Watchdog.SleepTime)
			}

			if config.Status.Enabled && (config.Status.Port < 1 || config.Status.Port > 65535) {
				t.Errorf("%s: status port %d is out of valid range (1-65535)", tc.name, config.Status.Port)
			}

			if tc.check != nil {
				tc.check(t, config)
			}
		})
	}
}
