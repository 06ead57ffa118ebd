// hass-watchdog - probes Home Assistant and power-cycles its host when it stops answering
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/hass-watchdog/pkg/logger"
	"github.com/supporttools/hass-watchdog/pkg/types"
	"github.com/supporttools/hass-watchdog/pkg/util"
)

// Build-time variables set by goreleaser or make
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Command-line flags
var (
	configPath = flag.String("config", "/etc/hass-watchdog/config.yaml", "Path to configuration file")
	logLevel   = flag.String("log-level", "", "Override log level (debug, info, warn, error, fatal)")
	logFormat  = flag.String("log-format", "", "Override log format (json, text)")
	dryRun     = flag.Bool("dry-run", false, "Enable dry-run mode (log power cycles without switching the relay)")
	version    = flag.Bool("version", false, "Show version information and exit")
)

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	config, err := loadConfiguration()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if err := setupLogging(config.Settings); err != nil {
		logger.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Close()

	logger.Infof("hass-watchdog %s starting, monitoring %s", Version, config.Target.HassURL)
	logger.WithFields(logrus.Fields{
		"relay_id":             config.Relay.ID,
		"driver":               config.Relay.Driver,
		"max_failed_responses": config.Watchdog.Threshold(),
		"sleep_time":           config.Watchdog.SleepTime,
		"reset_sleep_time":     config.Watchdog.ResetSleepTime,
		"dry_run":              config.Settings.DryRun,
	}).Info("Configuration loaded")

	if rt := util.DetectRuntime(); rt.Supervised {
		logger.Warnf("Running as a Home Assistant add-on: power cycling the relay also stops this watchdog until the host is back")
	} else if rt.Container {
		logger.Infof("Running in a container")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wd, err := newApp(config, *configPath)
	if err != nil {
		logger.Fatalf("Failed to create watchdog: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() {
		errChan <- wd.Run(ctx)
	}()

	stopped := false
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %v, initiating graceful shutdown", sig)
	case err := <-errChan:
		stopped = true
		if err != nil {
			logger.Errorf("Watchdog error: %v", err)
		}
	}

	cancel()

	if !stopped {
		select {
		case <-errChan:
			logger.Infof("Graceful shutdown completed")
		case <-time.After(shutdownTimeout(config)):
			logger.Warnf("Shutdown timeout exceeded, forcing exit")
		}
	}

	logger.Infof("hass-watchdog stopped")
}

// shutdownGrace bounds stopping the loop, discovery and the status server.
const shutdownGrace = 30 * time.Second

// shutdownTimeout bounds the wait for Run after a signal. A power cycle in
// progress still switches the relay back on before Run returns.
func shutdownTimeout(config *types.WatchdogConfig) time.Duration {
	return shutdownGrace + config.Watchdog.SettleDelay + 2*relayCommandTimeout(config.Relay)
}

// relayCommandTimeout is the longest a single relay command may take.
func relayCommandTimeout(cfg types.RelayConfig) time.Duration {
	switch {
	case cfg.Driver == types.DriverShelly && cfg.Shelly != nil:
		return cfg.Shelly.CommandTimeout
	case cfg.Driver == types.DriverModbus && cfg.Modbus != nil:
		return cfg.Modbus.Timeout
	}
	return 0
}

// loadConfiguration loads and validates the configuration with proper precedence:
// 1. Start with file config, or defaults plus environment if the file doesn't exist
// 2. Apply CLI flag overrides
// 3. Re-validate the final configuration
func loadConfiguration() (*types.WatchdogConfig, error) {
	var config *types.WatchdogConfig
	var err error

	if _, statErr := os.Stat(*configPath); os.IsNotExist(statErr) {
		logger.Warnf("Config file %s not found, using defaults and environment", *configPath)
		config, err = util.DefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		config, err = util.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	}

	applyFlagOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed after applying overrides: %w", err)
	}

	return config, nil
}

// applyFlagOverrides applies command-line flag overrides to the configuration.
func applyFlagOverrides(config *types.WatchdogConfig) {
	if *logLevel != "" {
		logger.Infof("Overriding log level: %s -> %s", config.Settings.LogLevel, *logLevel)
		config.Settings.LogLevel = *logLevel
	}

	if *logFormat != "" {
		logger.Infof("Overriding log format: %s -> %s", config.Settings.LogFormat, *logFormat)
		config.Settings.LogFormat = *logFormat
	}

	if *dryRun {
		logger.Infof("Enabling dry-run mode (relay will not be switched)")
		config.Settings.DryRun = true
	}
}

// setupLogging configures the global logger from the settings section.
func setupLogging(settings types.GlobalSettings) error {
	return logger.Initialize(settings.LogLevel, settings.LogFormat, settings.LogOutput, settings.LogFile)
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("hass-watchdog %s\n", Version)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
	fmt.Printf("  Built: %s\n", BuildTime)
	fmt.Printf("  Go Version: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
