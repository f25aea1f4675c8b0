package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// reloadDelay debounces editor write bursts before reloading.
const reloadDelay = 500 * time.Millisecond

// ReloadFunc receives the freshly loaded configuration after a change.
type ReloadFunc func(cfg *Config)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path   string
	onLoad ReloadFunc
	logger *telemetry.Logger

	mu          sync.Mutex
	reloadTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file path. onLoad is
// invoked with the new configuration after each successful reload.
func NewWatcher(path string, onLoad ReloadFunc, logger *telemetry.Logger) *Watcher {
	return &Watcher{
		path:   path,
		onLoad: onLoad,
		logger: logger.WithField("component", "config-watcher"),
	}
}

// Watch blocks until ctx is cancelled, reloading the configuration on
// file changes. Editors often replace files via rename, so the parent
// directory is watched rather than the file itself.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.WithField("path", w.path).Info("Watching configuration file")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Configuration watcher error")
		}
	}
}

func (w *Watcher) matches(name string) bool {
	base := filepath.Base(w.path)
	if filepath.Base(name) == base {
		return true
	}
	// Some editors write through a temp file with the same stem.
	return strings.HasPrefix(filepath.Base(name), strings.TrimSuffix(base, filepath.Ext(base)))
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Configuration reload failed, keeping previous settings")
		return
	}
	w.logger.WithField("path", w.path).Info("Configuration reloaded")
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}
