// Package settings exposes the viper-backed configuration as an
// observable store, so reactions to config changes are named methods
// instead of anonymous storage callbacks.
package settings

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// Settings is the subset of configuration other components react to.
type Settings struct {
	Level models.FilteringLevel
	Lists []models.FilterList
}

// Store wraps a viper instance with change subscriptions.
type Store struct {
	v   *viper.Viper
	log *slog.Logger

	mu   sync.Mutex
	subs []func(Settings)
}

// New creates a settings store over v.
func New(v *viper.Viper, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{v: v, log: log}
}

// Current returns the settings as currently loaded.
func (s *Store) Current() (Settings, error) {
	var cfg models.Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return Settings{}, err
	}
	return Settings{Level: cfg.Filtering.Level, Lists: cfg.Lists}, nil
}

// Subscribe registers a change handler. Handlers run on the watcher
// goroutine and must not block.
func (s *Store) Subscribe(onChange func(Settings)) {
	s.mu.Lock()
	s.subs = append(s.subs, onChange)
	s.mu.Unlock()
}

// Watch starts watching the config file and notifying subscribers on
// every change.
func (s *Store) Watch() {
	s.v.OnConfigChange(func(fsnotify.Event) {
		s.notify()
	})
	s.v.WatchConfig()
}

func (s *Store) notify() {
	current, err := s.Current()
	if err != nil {
		s.log.Warn("config reload failed", "error", err)
		return
	}
	s.mu.Lock()
	subs := append([]func(Settings){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(current)
	}
}
