package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ConfigWatcher monitors the config file and triggers reloads
type ConfigWatcher struct {
	config      *Config
	watcher     *fsnotify.Watcher
	callbacks   []func(*Config)
	stopCh      chan struct{}
	mu          sync.RWMutex
	running     bool
	lastModTime time.Time
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(config *Config) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	cw := &ConfigWatcher{
		config:  config,
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}

	return cw, nil
}

// AddCallback adds a callback to be invoked after a successful reload
func (cw *ConfigWatcher) AddCallback(callback func(*Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.callbacks = append(cw.callbacks, callback)
}

// Start starts watching for configuration changes. The parent directory
// is watched alongside the file so editors that save via rename are
// still observed.
func (cw *ConfigWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return fmt.Errorf("watcher is already running")
	}

	configFile := cw.config.ConfigFile

	if stat, err := os.Stat(configFile); err == nil {
		cw.lastModTime = stat.ModTime()
	}

	if err := cw.watcher.Add(filepath.Dir(configFile)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if err := cw.watcher.Add(configFile); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	cw.running = true

	go cw.watchLoop()

	return nil
}

// Stop stops the configuration watcher. Safe to call on a watcher that
// was never started; the underlying file watcher is released either way.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		cw.running = false
		close(cw.stopCh)
	}
	return cw.watcher.Close()
}

// watchLoop monitors file system events
func (cw *ConfigWatcher) watchLoop() {
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // Stop the initial timer

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if !cw.isConfigEvent(event) {
				continue
			}

			// Debounce rapid file changes
			debounceTimer.Stop()
			debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
				cw.handleConfigChange()
			})

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("config watcher error: %v", err)

		case <-cw.stopCh:
			return
		}
	}
}

// isConfigEvent checks if an event concerns the config file
func (cw *ConfigWatcher) isConfigEvent(event fsnotify.Event) bool {
	configFile := cw.config.ConfigFile

	if event.Name == configFile {
		return event.Op&(fsnotify.Write|fsnotify.Create) != 0
	}

	// Create/rename in the config directory covers atomic-save editors
	if filepath.Dir(event.Name) == filepath.Dir(configFile) {
		return event.Op&(fsnotify.Create|fsnotify.Rename) != 0
	}

	return false
}

// handleConfigChange reloads the config after a debounced event
func (cw *ConfigWatcher) handleConfigChange() {
	configFile := cw.config.ConfigFile

	if stat, err := os.Stat(configFile); err == nil {
		cw.mu.Lock()
		if !stat.ModTime().After(cw.lastModTime) {
			cw.mu.Unlock()
			return
		}
		cw.lastModTime = stat.ModTime()
		cw.mu.Unlock()
	} else {
		// File doesn't exist, skip reload
		return
	}

	if err := cw.config.Reload(); err != nil {
		logrus.Errorf("failed to reload configuration: %v", err)
		return
	}

	cw.mu.RLock()
	callbacks := make([]func(*Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		callback(cw.config)
	}

	logrus.Info("configuration reloaded")
}

// TriggerReload manually triggers a configuration reload
func (cw *ConfigWatcher) TriggerReload() error {
	return cw.config.Reload()
}
