package conf

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dark4eg/Common-Metadata-Repository/errors"
	"github.com/dark4eg/Common-Metadata-Repository/logger"
)

// ConfigWatcher watches a config file for changes and triggers reload
// callbacks. Cleanup retention and pacing can be retuned on a running
// instance without a restart.
type ConfigWatcher struct {
	configPath     string
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	done           chan struct{}
}

// ReloadCallback is called with the freshly loaded config when the watched
// file changes. A callback error is logged, not propagated; other callbacks
// still run.
type ReloadCallback func(*Config) error

// NewConfigWatcher creates a watcher for the given config file.
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch config file %s", configPath)
	}

	cw := &ConfigWatcher{
		configPath:     configPath,
		watcher:        watcher,
		callbacks:      make([]ReloadCallback, 0),
		debouncePeriod: 500 * time.Millisecond, // Debounce rapid file changes
		done:           make(chan struct{}),
	}

	return cw, nil
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start begins watching in a background goroutine. Stop terminates it.
func (cw *ConfigWatcher) Start() {
	go cw.loop()
}

// Stop terminates the watch loop and releases the underlying watcher.
func (cw *ConfigWatcher) Stop() {
	close(cw.done)
	cw.watcher.Close()
}

func (cw *ConfigWatcher) loop() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cw.scheduleReload()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "path", cw.configPath, "error", err)
		}
	}
}

// scheduleReload debounces bursts of write events into a single reload.
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, cw.reload)
}

func (cw *ConfigWatcher) reload() {
	config, err := LoadFromFile(cw.configPath)
	if err != nil {
		logger.Errorw("Config reload failed", "path", cw.configPath, "error", err)
		return
	}

	logger.Infow("Config reloaded",
		"path", cw.configPath,
		"retained_revisions", config.Store.RetainedRevisions,
		"cleanup_rate", config.Cleanup.RatePerSecond,
	)

	cw.mu.RLock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(config); err != nil {
			logger.Errorw("Config reload callback failed", "error", err)
		}
	}
}
