package reload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
	"github.com/supporttools/hass-watchdog/pkg/util"
)

// ReloadCallback is called when a configuration reload is needed.
// It receives the new configuration and the diff, and should apply the changes.
type ReloadCallback func(ctx context.Context, newConfig *types.WatchdogConfig, diff *ConfigDiff) error

// Loader reads and validates a configuration file.
type Loader func(path string) (*types.WatchdogConfig, error)

// ReloadCoordinator orchestrates configuration reload operations.
type ReloadCoordinator struct {
	configPath       string
	currentConfig    *types.WatchdogConfig
	reloadCallback   ReloadCallback
	logger           Logger
	validator        *ConfigValidator
	load             Loader
	mu               sync.Mutex
	reloadInProgress bool
}

// NewReloadCoordinator creates a new reload coordinator. logger may be nil.
func NewReloadCoordinator(
	configPath string,
	initialConfig *types.WatchdogConfig,
	reloadCallback ReloadCallback,
	logger Logger,
) *ReloadCoordinator {
	return &ReloadCoordinator{
		configPath:     configPath,
		currentConfig:  initialConfig,
		reloadCallback: reloadCallback,
		logger:         logger,
		validator:      NewConfigValidator(),
		load:           util.LoadConfig,
	}
}

// SetLoader replaces the configuration loader, mostly for tests.
func (rc *ReloadCoordinator) SetLoader(load Loader) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.load = load
}

// Run triggers a reload for every event received on changes until ctx is
// cancelled or changes is closed. Reload errors are logged; the current
// configuration stays in effect.
func (rc *ReloadCoordinator) Run(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := rc.TriggerReload(ctx); err != nil {
				rc.warnf("Configuration reload failed, keeping current configuration: %v", err)
			}
		}
	}
}

// TriggerReload attempts to reload the configuration from disk.
// This method is safe to call concurrently; only one reload happens at a time.
func (rc *ReloadCoordinator) TriggerReload(ctx context.Context) error {
	rc.mu.Lock()
	if rc.reloadInProgress {
		rc.mu.Unlock()
		return fmt.Errorf("reload already in progress")
	}
	rc.reloadInProgress = true
	load := rc.load
	rc.mu.Unlock()

	defer func() {
		rc.mu.Lock()
		rc.reloadInProgress = false
		rc.mu.Unlock()
	}()

	return rc.performReload(ctx, load)
}

// performReload executes the reload process.
func (rc *ReloadCoordinator) performReload(ctx context.Context, load Loader) error {
	startTime := time.Now()

	rc.infof("Configuration reload initiated from %s", rc.configPath)

	// Step 1: Load new configuration
	newConfig, err := load(rc.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Step 2: Validate new configuration
	if rc.validator != nil {
		validationResult := rc.validator.Validate(newConfig)
		if !validationResult.Valid {
			return fmt.Errorf("configuration validation failed: %s",
				FormatValidationErrors(validationResult.Errors))
		}
	}

	// Step 3: Compute diff
	rc.mu.Lock()
	diff := ComputeConfigDiff(rc.currentConfig, newConfig)
	rc.mu.Unlock()

	// Step 4: Check if there are any changes
	if !diff.HasChanges() {
		rc.infof("Configuration reload completed with no changes")
		return nil
	}

	if len(diff.RestartRequired) > 0 {
		rc.warnf("Changes to %s take effect after a restart", strings.Join(diff.RestartRequired, ", "))
	}

	// Step 5: Apply changes via callback
	if diff.HasLiveChanges() && rc.reloadCallback != nil {
		if err := rc.reloadCallback(ctx, newConfig, diff); err != nil {
			return fmt.Errorf("failed to apply changes: %w", err)
		}
	}

	// Step 6: Update current config
	rc.mu.Lock()
	rc.currentConfig = newConfig
	rc.mu.Unlock()

	rc.infof("%s", rc.buildReloadStats(diff, time.Since(startTime)))
	return nil
}

// buildReloadStats creates a summary message of what was reloaded.
func (rc *ReloadCoordinator) buildReloadStats(diff *ConfigDiff, duration time.Duration) string {
	msg := fmt.Sprintf("Configuration reload completed in %v. ", duration.Round(time.Millisecond))

	changes := make([]string, 0)
	if diff.TunablesChanged {
		changes = append(changes, "watchdog tunables updated")
	}
	if diff.LogLevelChanged {
		changes = append(changes, "log level updated")
	}
	if len(diff.RestartRequired) > 0 {
		changes = append(changes, fmt.Sprintf("%d section(s) pending restart", len(diff.RestartRequired)))
	}

	if len(changes) == 0 {
		return msg + "No changes detected."
	}
	return msg + "Changes: " + strings.Join(changes, ", ")
}

// GetCurrentConfig returns the current active configuration (thread-safe).
func (rc *ReloadCoordinator) GetCurrentConfig() *types.WatchdogConfig {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.currentConfig
}

// SetValidator sets a new configuration validator.
func (rc *ReloadCoordinator) SetValidator(validator *ConfigValidator) {
	rc.validator = validator
}

func (rc *ReloadCoordinator) infof(format string, args ...interface{}) {
	if rc.logger != nil {
		rc.logger.Infof(format, args...)
	}
}

func (rc *ReloadCoordinator) warnf(format string, args ...interface{}) {
	if rc.logger != nil {
		rc.logger.Warnf(format, args...)
	}
}
