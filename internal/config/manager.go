package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/playgate-tv/playgate/internal/log"
)

// Manager holds the current configuration snapshot and reloads it when
// the backing file changes. Readers get a consistent immutable snapshot;
// a swap never tears an in-flight request.
type Manager struct {
	loader  *Loader
	current atomic.Pointer[Config]
}

// NewManager wraps an already-loaded configuration.
func NewManager(loader *Loader, cfg Config) *Manager {
	m := &Manager{loader: loader}
	m.current.Store(&cfg)
	return m
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload re-runs the loader and swaps the snapshot on success. Invalid
// configurations are rejected and the previous snapshot stays active.
func (m *Manager) Reload() error {
	cfg, err := m.loader.Load()
	if err != nil {
		return err
	}
	m.current.Store(&cfg)
	return nil
}

// Watch blocks until ctx is cancelled, reloading the configuration when
// the file at path changes. Editors replace files rather than writing in
// place, so the watch is on the parent directory.
func (m *Manager) Watch(ctx context.Context, path string) error {
	logger := log.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	// Debounce bursts of write events from atomic-save editors.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			if err := m.Reload(); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("config reload rejected, keeping previous snapshot")
				continue
			}
			logger.Info().Str("path", path).Msg("configuration reloaded")
		}
	}
}
