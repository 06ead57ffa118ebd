package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

const modbusConfigYAML = `apiVersion: hass-watchdog.io/v1alpha1
kind: WatchdogConfig
settings:
  logLevel: info
  logFormat: text
watchdog:
  maxFailedResponses: 5
  sleepTime: 2s
  probeTimeout: 1s
target:
  hassURL: http://homeassistant.local:8123
  watchdogWebhook: watchdog-1234
relay:
  id: coil-1
  driver: modbus
  modbus:
    endpoint: 127.0.0.1:1502
    coil: 3
status:
  enabled: true
metrics:
  enabled: true
`

// withConfigPath points the -config flag at path for the duration of the test.
func withConfigPath(t *testing.T, path string) {
	t.Helper()
	original := *configPath
	*configPath = path
	t.Cleanup(func() { *configPath = original })
}

// resetFlags restores every override flag after the test.
func resetFlags(t *testing.T) {
	t.Helper()
	level, format, dry := *logLevel, *logFormat, *dryRun
	t.Cleanup(func() {
		*logLevel, *logFormat, *dryRun = level, format, dry
	})
}

// TestLoadConfiguration tests configuration loading with various scenarios
func TestLoadConfiguration(t *testing.T) {
	tests := []struct {
		name           string
		configContent  string
		configExists   bool
		setEnv         map[string]string
		setFlags       func()
		expectError    bool
		validateConfig func(*testing.T, *types.WatchdogConfig)
	}{
		{
			name:          "valid YAML config file",
			configExists:  true,
			configContent: modbusConfigYAML,
			validateConfig: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Relay.Driver != types.DriverModbus {
					t.Errorf("Expected driver modbus, got %q", c.Relay.Driver)
				}
				if c.Watchdog.Threshold() != 5 {
					t.Errorf("Expected threshold 5, got %d", c.Watchdog.Threshold())
				}
				if c.Watchdog.SleepTime != 2*time.Second {
					t.Errorf("Expected sleepTime 2s, got %v", c.Watchdog.SleepTime)
				}
			},
		},
		{
			name:         "default config from environment when file doesn't exist",
			configExists: false,
			setEnv: map[string]string{
				types.EnvHassURL:         "http://10.0.0.5:8123",
				types.EnvWatchdogWebhook: "hook",
				types.EnvShellyRelayID:   "shelly1-AABBCC",
			},
			validateConfig: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Target.HassURL != "http://10.0.0.5:8123" {
					t.Errorf("Expected HASS_URL from environment, got %q", c.Target.HassURL)
				}
				if c.Relay.Driver != types.DriverShelly || c.Relay.ID != "shelly1-AABBCC" {
					t.Errorf("Expected shelly relay shelly1-AABBCC, got %s/%s", c.Relay.Driver, c.Relay.ID)
				}
			},
		},
		{
			name:         "defaults without environment",
			configExists: false,
			setEnv: map[string]string{
				types.EnvHassURL:         "",
				types.EnvWatchdogWebhook: "",
				types.EnvShellyRelayID:   "",
			},
			expectError: true,
		},
		{
			name: "probe timeout not below sleep time",
			configContent: strings.Replace(modbusConfigYAML,
				"probeTimeout: 1s", "probeTimeout: 5s", 1),
			configExists: true,
			expectError:  true,
		},
		{
			name:          "invalid log level override",
			configContent: modbusConfigYAML,
			configExists:  true,
			setFlags:      func() { *logLevel = "verbose" },
			expectError:   true,
		},
		{
			name:          "flag overrides applied",
			configContent: modbusConfigYAML,
			configExists:  true,
			setFlags: func() {
				*logFormat = "json"
				*dryRun = true
			},
			validateConfig: func(t *testing.T, c *types.WatchdogConfig) {
				if c.Settings.LogFormat != "json" {
					t.Errorf("Expected log format json, got %q", c.Settings.LogFormat)
				}
				if !c.Settings.DryRun {
					t.Error("Expected dry-run to be enabled")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.setEnv {
				t.Setenv(key, value)
			}
			resetFlags(t)
			if tt.setFlags != nil {
				tt.setFlags()
			}

			testConfigPath := filepath.Join(t.TempDir(), "config.yaml")
			withConfigPath(t, testConfigPath)

			if tt.configExists {
				if err := os.WriteFile(testConfigPath, []byte(tt.configContent), 0644); err != nil {
					t.Fatalf("Failed to write test config: %v", err)
				}
			}

			config, err := loadConfiguration()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validateConfig != nil {
				tt.validateConfig(t, config)
			}
		})
	}
}

// TestApplyFlagOverrides tests command-line flag overrides
func TestApplyFlagOverrides(t *testing.T) {
	resetFlags(t)

	config := &types.WatchdogConfig{
		Settings: types.GlobalSettings{LogLevel: "info", LogFormat: "text"},
	}

	applyFlagOverrides(config)
	if config.Settings.LogLevel != "info" || config.Settings.LogFormat != "text" || config.Settings.DryRun {
		t.Errorf("Config changed without flags: %+v", config.Settings)
	}

	*logLevel = "debug"
	*logFormat = "json"
	*dryRun = true
	applyFlagOverrides(config)

	if config.Settings.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %q", config.Settings.LogLevel)
	}
	if config.Settings.LogFormat != "json" {
		t.Errorf("Expected log format json, got %q", config.Settings.LogFormat)
	}
	if !config.Settings.DryRun {
		t.Error("Expected dry-run to be enabled")
	}
}

func TestPrintVersion(t *testing.T) {
	originalStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	printVersion()

	w.Close()
	os.Stdout = originalStdout
	output, _ := io.ReadAll(r)
	outputStr := string(output)

	for _, want := range []string{"hass-watchdog", "Git Commit:", "Built:", "Go Version:", "OS/Arch:"} {
		if !strings.Contains(outputStr, want) {
			t.Errorf("Version output missing %q", want)
		}
	}
}

func TestShutdownTimeout(t *testing.T) {
	tests := []struct {
		name  string
		relay types.RelayConfig
		want  time.Duration
	}{
		{
			name:  "shelly",
			relay: types.RelayConfig{Driver: types.DriverShelly, Shelly: &types.ShellyConfig{CommandTimeout: 5 * time.Second}},
			want:  shutdownGrace + 10*time.Second + 10*time.Second,
		},
		{
			name:  "modbus",
			relay: types.RelayConfig{Driver: types.DriverModbus, Modbus: &types.ModbusConfig{Timeout: 2 * time.Second}},
			want:  shutdownGrace + 10*time.Second + 4*time.Second,
		},
		{
			name:  "driver without settings",
			relay: types.RelayConfig{Driver: types.DriverModbus},
			want:  shutdownGrace + 10*time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &types.WatchdogConfig{Relay: tt.relay}
			config.Watchdog.SettleDelay = 10 * time.Second

			if got := shutdownTimeout(config); got != tt.want {
				t.Errorf("shutdownTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}
