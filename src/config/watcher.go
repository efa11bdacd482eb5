package config

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration collapses the burst of events editors emit on save
const debounceDuration = 500 * time.Millisecond

// WatchLogger is the logging the watcher needs
type WatchLogger interface {
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// ConfigWatcher watches the config file and hands each valid reload to a
// callback. Invalid files are logged and ignored.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	reloadFunc func(*Config) error
	logger     WatchLogger

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewConfigWatcher creates a new config file watcher
func NewConfigWatcher(configPath string, logger WatchLogger, reloadFunc func(*Config) error) (*ConfigWatcher, error) {
	if configPath == "" {
		return nil, errors.New("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ConfigWatcher{
		watcher:    watcher,
		configPath: filepath.Clean(configPath),
		reloadFunc: reloadFunc,
		logger:     logger,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is watched rather than the file so
// rename-on-save editors keep working.
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return err
	}

	cw.logger.Info("Watching for config file changes: %s", cw.configPath)
	go cw.loop()
	return nil
}

func (cw *ConfigWatcher) loop() {
	defer close(cw.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("Config watcher error: %v", err)

		case <-cw.stopChan:
			return
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cw.logger.Info("Config file changed, reloading...")

	newCfg, err := Load(cw.configPath)
	if err != nil {
		cw.logger.Error("Failed to load new config: %v", err)
		return
	}

	if err := cw.reloadFunc(newCfg); err != nil {
		cw.logger.Error("Failed to apply new config: %v", err)
		return
	}

	cw.logger.Info("Configuration reloaded")
}

// Stop stops the watcher and waits for its goroutine
func (cw *ConfigWatcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		err = cw.watcher.Close()
		<-cw.done
	})
	return err
}
