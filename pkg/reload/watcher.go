// Package reload re-reads the configuration file while the watchdog runs.
//
// A ConfigWatcher turns file system events for the configuration file into
// debounced change notifications. A ReloadCoordinator loads and validates
// the new file, diffs it against the running configuration and hands the
// settings that can change live to a callback.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Logger is the logging interface used by this package.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// ConfigWatcher reports changes to one configuration file.
//
// The parent directory is watched rather than the file itself, so a file
// replaced by rename (editors, add-on supervisors) keeps being tracked.
type ConfigWatcher struct {
	path             string
	debounceInterval time.Duration
	fsw              *fsnotify.Watcher
	logger           Logger

	changes chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	running bool
}

// NewConfigWatcher creates a watcher for path. A non-positive debounce
// selects 500ms. logger may be nil.
func NewConfigWatcher(path string, debounce time.Duration, logger Logger) (*ConfigWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ConfigWatcher{
		path:             filepath.Clean(path),
		debounceInterval: debounce,
		fsw:              fsw,
		logger:           logger,
		changes:          make(chan struct{}, 1),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}, nil
}

// Start begins watching and returns the notification channel. At most one
// notification is pending at a time; the channel is never closed.
func (cw *ConfigWatcher) Start(ctx context.Context) (<-chan struct{}, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return nil, fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(cw.path)
	if err := cw.fsw.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	cw.running = true
	go cw.loop(ctx)

	return cw.changes, nil
}

// Stop ends watching and waits for the event loop to exit. It is safe to
// call more than once, and before Start.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.running {
		cw.fsw.Close()
		return
	}

	close(cw.stop)
	cw.fsw.Close()
	<-cw.done
	cw.running = false
}

func (cw *ConfigWatcher) loop(ctx context.Context) {
	defer close(cw.done)

	debounce := time.NewTimer(cw.debounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stop:
			return

		case event, ok := <-cw.fsw.Events:
			if !ok {
				return
			}
			if !cw.isConfigFileEvent(event) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				debounce.Reset(cw.debounceInterval)
			case event.Op&fsnotify.Remove != 0:
				cw.warnf("Config file %s removed, keeping current configuration", cw.path)
			}

		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}
			cw.warnf("Config file watcher error: %v", err)

		case <-debounce.C:
			select {
			case cw.changes <- struct{}{}:
			default:
			}
		}
	}
}

// isConfigFileEvent reports whether event concerns the watched file.
func (cw *ConfigWatcher) isConfigFileEvent(event fsnotify.Event) bool {
	return filepath.Clean(event.Name) == cw.path
}

func (cw *ConfigWatcher) warnf(format string, args ...interface{}) {
	if cw.logger != nil {
		cw.logger.Warnf(format, args...)
	}
}
