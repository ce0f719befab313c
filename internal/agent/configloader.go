package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// ConfigLoader reads a runtime config file (YAML or JSON5) and, when
// watching is enabled, hot-reloads it on change, merging each reload
// over DefaultConfig().
type ConfigLoader struct {
	Path     string
	OnReload func(Config)
	Logger   *slog.Logger

	mu      sync.RWMutex
	current Config

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewConfigLoader builds a loader and performs an initial load.
func NewConfigLoader(path string) (*ConfigLoader, error) {
	l := &ConfigLoader{Path: path, Logger: slog.Default().With("component", "config_loader")}
	if _, err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads and parses the config file, merging it over
// DefaultConfig(), and stores the result as current.
func (l *ConfigLoader) Load() (Config, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", l.Path, err)
	}

	var override Config
	switch strings.ToLower(filepath.Ext(l.Path)) {
	case ".json5":
		if err := json5.Unmarshal(raw, &override); err != nil {
			return Config{}, fmt.Errorf("parsing json5 config %s: %w", l.Path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &override); err != nil {
			return Config{}, fmt.Errorf("parsing yaml config %s: %w", l.Path, err)
		}
	}

	merged := mergeConfig(DefaultConfig(), override)
	l.mu.Lock()
	l.current = merged
	l.mu.Unlock()
	return merged, nil
}

// Current returns the most recently loaded configuration.
func (l *ConfigLoader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts a debounced fsnotify watch on the config file; each
// change triggers a reload and, on success, OnReload.
func (l *ConfigLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.Path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching config directory: %w", err)
	}
	l.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel

	l.watchWg.Add(1)
	go l.watchLoop(watchCtx, watcher, 250*time.Millisecond)
	return nil
}

func (l *ConfigLoader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer l.watchWg.Done()
	defer watcher.Close()

	target := filepath.Base(l.Path)
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			cfg, err := l.Load()
			if err != nil {
				l.Logger.Warn("config reload failed", "error", err)
				return
			}
			if l.OnReload != nil {
				l.OnReload(cfg)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.Logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops the watcher, if running.
func (l *ConfigLoader) Close() error {
	if l.watchCancel != nil {
		l.watchCancel()
	}
	l.watchWg.Wait()
	return nil
}
