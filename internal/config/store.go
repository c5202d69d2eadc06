package config

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Store holds the active configuration. Readers take a snapshot with Current and keep using it
// for the whole evaluation; Reload swaps in a new value without touching old snapshots.
type Store struct {
	path      string
	overrides []func(*Config)
	current   atomic.Pointer[Config]

	mu       sync.Mutex
	modTime  time.Time
	onReload []func(*Config)
}

// NewStore loads path and keeps it as the active configuration. Overrides run on every loaded
// snapshot, including reloads, before it is published.
func NewStore(path string, overrides ...func(*Config)) (*Store, error) {
	s := &Store{path: path, overrides: overrides}
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	s.modTime = s.stat()
	return s, nil
}

// NewStaticStore wraps an already loaded configuration; Reload is a no-op
func NewStaticStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active snapshot. Callers must not modify it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// OnReload registers fn to run after every successful reload
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload re-reads the file. An invalid file leaves the active configuration in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load()
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	s.modTime = s.stat()
	log.Info().Str("path", s.path).Msg("Configuration reloaded")

	for _, fn := range s.onReload {
		fn(cfg)
	}
	return nil
}

// Watch polls the file modification time and reloads on change until ctx is done
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if s.path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.changed() {
				continue
			}
			if err := s.Reload(); err != nil {
				log.Error().Err(err).Str("path", s.path).Msg("Configuration reload failed, keeping previous")
				s.mu.Lock()
				s.modTime = s.stat()
				s.mu.Unlock()
			}
		}
	}
}

func (s *Store) load() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	for _, fn := range s.overrides {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Store) changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stat().Equal(s.modTime)
}

func (s *Store) stat() time.Time {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
