// Package config loads the on-disk JSON configuration (symbol list,
// Postgres connection string, batch size) and watches it for hot-reload,
// adapted from pkg/config.LoadAndWatch's viper+fsnotify shape for the
// flat JSON document this service reads instead of a YAML service config.
package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tradeingest/pkg/logger"
)

// Config is the on-disk shape: the symbol list the operator edits, the
// store connection string, and the batch size the writer groups trades
// into.
type Config struct {
	Symbols   []string `mapstructure:"Symbols"`
	Postgres  string   `mapstructure:"Postgres"`
	BatchSize int      `mapstructure:"BatchSize"`
}

// Watcher holds the current configuration and reloads it whenever the
// backing file changes on disk, fanning the change out to subscribers
// (the reconfiguration controller).
type Watcher struct {
	v    *viper.Viper
	path string

	mu      sync.RWMutex
	current Config

	subMu sync.Mutex
	subs  []chan struct{}
}

// Load reads path once and starts watching it for changes. A missing
// connection string is the caller's responsibility to treat as fatal;
// Load itself only fails if the file cannot be read or parsed.
func Load(path string) (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	w := &Watcher{v: v, path: path}
	if err := w.reload(); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Warn(context.Background(), "config: reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info(context.Background(), "config: reloaded", zap.String("file", e.Name))
		w.notify()
	})

	return w, nil
}

func (w *Watcher) reload() error {
	var c Config
	if err := w.v.Unmarshal(&c); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	w.mu.Lock()
	w.current = c
	w.mu.Unlock()
	return nil
}

// Current returns a snapshot of the configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Symbols returns the raw, as-configured symbol strings, satisfying
// symbols.ConfigReader.
func (w *Watcher) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.current.Symbols))
	copy(out, w.current.Symbols)
	return out
}

// Path returns the backing file path, satisfying symbols.ConfigReader so
// the resolver can rewrite it during one-shot cleanup.
func (w *Watcher) Path() string {
	return w.path
}

// Subscribe returns a channel that receives a value (non-blocking, best
// effort) every time the file is reloaded after a change. Intended for a
// single reconfiguration-controller reader.
func (w *Watcher) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	w.subMu.Lock()
	w.subs = append(w.subs, ch)
	w.subMu.Unlock()
	return ch
}

func (w *Watcher) notify() {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// RequireConnString returns Postgres or an error if it is blank; missing
// value is a fatal startup error per the spec's environment contract.
func (c Config) RequireConnString() (string, error) {
	s := strings.TrimSpace(c.Postgres)
	if s == "" {
		return "", fmt.Errorf("config: Postgres connection string is required")
	}
	return s, nil
}
