package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the active config snapshot. Credentials may change at
// runtime (rotated keys, newly provisioned providers); readers always call
// Current and never hold a *Config across a suspension point.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

func NewManager(path string) (*Manager, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = ConfigPath()
	}
	return &Manager{path: path, cfg: cfg}, nil
}

// NewStaticManager wraps an already-built config. Used by tests and by
// callers that manage their own reload policy.
func NewStaticManager(cfg *Config) *Manager {
	return &Manager{cfg: cfg}
}

// Current returns the active snapshot. The returned value is shared and must
// be treated as read-only.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Replace swaps the active snapshot.
func (m *Manager) Replace(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}
	cfg, err := LoadFile(m.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	m.Replace(cfg)
	return nil
}

// Watch re-reads the config file whenever it changes, until ctx is done.
// Editors replace files rather than writing in place, so the parent
// directory is watched and events are matched by name.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Coalesce bursts from editors that write multiple times.
				pending = time.After(200 * time.Millisecond)
			case <-pending:
				pending = nil
				if err := m.Reload(); err != nil {
					log.Printf("[config] reload warning: %v", err)
				} else {
					log.Printf("[config] reloaded %s", m.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watch warning: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
