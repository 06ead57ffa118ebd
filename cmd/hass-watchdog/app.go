package main

import (
	"context"
	"fmt"

	"github.com/supporttools/hass-watchdog/pkg/exporters/prometheus"
	"github.com/supporttools/hass-watchdog/pkg/health"
	"github.com/supporttools/hass-watchdog/pkg/logger"
	"github.com/supporttools/hass-watchdog/pkg/monitor"
	"github.com/supporttools/hass-watchdog/pkg/probe"
	"github.com/supporttools/hass-watchdog/pkg/relay"
	"github.com/supporttools/hass-watchdog/pkg/relay/modbus"
	"github.com/supporttools/hass-watchdog/pkg/relay/shelly"
	"github.com/supporttools/hass-watchdog/pkg/reload"
	"github.com/supporttools/hass-watchdog/pkg/remediators"
	"github.com/supporttools/hass-watchdog/pkg/types"
	"github.com/supporttools/hass-watchdog/pkg/util"
	"github.com/supporttools/hass-watchdog/pkg/watchdog"
)

// app holds the wired components of one watchdog process.
type app struct {
	config     *types.WatchdogConfig
	configPath string

	binder     *relay.Binder
	discoverer relay.Discoverer
	monitor    *monitor.HealthMonitor
	exporter   *prometheus.Exporter
	loop       *watchdog.Loop
	server     *health.Server
	watcher    *reload.ConfigWatcher
}

// newApp builds every component from config without starting anything.
// configPath is watched for hot reload when reload is enabled.
func newApp(config *types.WatchdogConfig, configPath string) (*app, error) {
	a := &app{config: config, configPath: configPath}

	binder, err := relay.NewBinder(config.Relay.ID, logger.For("relay"))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay binder: %w", err)
	}
	a.binder = binder

	a.discoverer, err = newDiscoverer(config.Relay)
	if err != nil {
		return nil, err
	}

	monitorOpts := []monitor.Option{monitor.WithLogger(logger.For("monitor"))}
	remediatorOpts := []remediators.Option{remediators.WithLogger(logger.For("remediator"))}

	if config.Metrics.Enabled {
		a.exporter, err = prometheus.NewExporter(config.Metrics.Namespace,
			prometheus.WithVersion(Version),
			prometheus.WithRelayBound(func() bool {
				_, ok := binder.Handle()
				return ok
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
		}
		monitorOpts = append(monitorOpts, monitor.WithObserver(a.exporter))
		remediatorOpts = append(remediatorOpts, remediators.WithObserver(a.exporter))
	}

	prober := probe.NewTargetProber(config.Target, config.Watchdog.ProbeTimeout)

	a.monitor, err = monitor.New(prober, config.Watchdog.Threshold(), monitorOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health monitor: %w", err)
	}

	remediator, err := remediators.NewPowerCycleRemediator(binder, a.monitor.Statistics(), remediators.Config{
		SettleDelay:   config.Watchdog.SettleDelay,
		RecoveryDelay: config.Watchdog.ResetSleepTime,
		DryRun:        config.Settings.DryRun,
	}, remediatorOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create remediator: %w", err)
	}

	a.loop, err = watchdog.New(a.monitor, remediator, watchdog.Config{
		SleepTime:  config.Watchdog.SleepTime,
		StatsEvery: config.Watchdog.StatsEvery,
	}, logger.For("watchdog"), watchdog.WithProber(prober))
	if err != nil {
		return nil, fmt.Errorf("failed to create watchdog loop: %w", err)
	}

	if config.Status.Enabled {
		serverOpts := []health.Option{
			health.WithDevices(binder),
			health.WithLogger(logger.For("status")),
		}
		if a.exporter != nil {
			serverOpts = append(serverOpts, health.WithMetricsHandler(a.exporter.Handler()))
		}
		a.server, err = health.NewServer(&health.Config{
			BindAddress: config.Status.BindAddress,
			Port:        config.Status.Port,
			Version:     Version,
		}, a.monitor, serverOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create status server: %w", err)
		}
		if c, ok := a.discoverer.(interface{ CheckConnection() error }); ok {
			a.server.AddHealthCheck("mqtt", c.CheckConnection)
		}
	}

	return a, nil
}

// newDiscoverer selects the relay driver.
func newDiscoverer(cfg types.RelayConfig) (relay.Discoverer, error) {
	switch cfg.Driver {
	case types.DriverShelly:
		if cfg.Shelly == nil {
			return nil, fmt.Errorf("relay.shelly is required for driver %q", cfg.Driver)
		}
		return shelly.NewDiscoverer(*cfg.Shelly, logger.For("shelly")), nil
	case types.DriverModbus:
		if cfg.Modbus == nil {
			return nil, fmt.Errorf("relay.modbus is required for driver %q", cfg.Driver)
		}
		d, err := modbus.NewDiscoverer(cfg.ID, *cfg.Modbus)
		if err != nil {
			return nil, fmt.Errorf("failed to create modbus relay: %w", err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
}

// Run starts the status server, relay discovery and the reload watcher, then
// runs the watchdog loop until ctx is cancelled. Everything is stopped on
// return. Discovery that cannot be started is fatal.
func (a *app) Run(ctx context.Context) error {
	defer a.shutdown()

	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
	}

	if err := a.discoverer.Start(ctx, a.binder.Handler()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to start relay discovery: %w", err)
	}

	if a.config.Reload.Enabled {
		if err := a.startReload(ctx); err != nil {
			logger.Warnf("Configuration hot reload disabled: %v", err)
		}
	}

	return a.loop.Run(ctx)
}

func (a *app) startReload(ctx context.Context) error {
	if a.configPath == "" {
		return fmt.Errorf("no configuration file")
	}

	watcher, err := reload.NewConfigWatcher(a.configPath, a.config.Reload.DebounceInterval, logger.For("reload"))
	if err != nil {
		return err
	}
	changes, err := watcher.Start(ctx)
	if err != nil {
		return err
	}
	a.watcher = watcher

	coordinator := reload.NewReloadCoordinator(a.configPath, a.config, a.applyReload, logger.For("reload"))
	coordinator.SetLoader(loadWithOverrides)
	go coordinator.Run(ctx, changes)

	logger.Infof("Watching %s for configuration changes", a.configPath)
	return nil
}

// loadWithOverrides re-reads the configuration file and keeps the command
// line overrides in force.
func loadWithOverrides(path string) (*types.WatchdogConfig, error) {
	config, err := util.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyReload is the reload callback: live settings go to the loop and the
// logger, the rest waits for a restart.
func (a *app) applyReload(_ context.Context, config *types.WatchdogConfig, diff *reload.ConfigDiff) error {
	if diff.LogLevelChanged {
		if err := logger.SetLevel(config.Settings.LogLevel); err != nil {
			return err
		}
	}
	if diff.TunablesChanged {
		a.loop.ApplyTunables(watchdog.TunablesFrom(config.Watchdog))
	}
	return nil
}

func (a *app) shutdown() {
	a.discoverer.Stop()
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.server != nil {
		if err := a.server.Shutdown(); err != nil {
			logger.Warnf("Status server shutdown: %v", err)
		}
	}
}
