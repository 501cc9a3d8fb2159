// Package settings holds the user-adjustable settings the scheduler reads at
// every decision: concurrency limit, auto-save, output directory and the
// remote API key. They persist to a JSON file and can change while tasks run.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Concurrency limits
const (
	DefaultMaxConcurrent = 3
	MinMaxConcurrent     = 1
	MaxMaxConcurrent     = 10
)

// Settings is a snapshot of the runtime settings.
type Settings struct {
	MaxConcurrent int    `json:"max_concurrent" mapstructure:"max_concurrent"`
	AutoSave      bool   `json:"auto_save" mapstructure:"auto_save"`
	OutputDir     string `json:"output_dir" mapstructure:"output_dir"`
	APIKey        string `json:"api_key,omitempty" mapstructure:"api_key"`
}

// Update carries a partial change. Nil fields are left untouched.
type Update struct {
	MaxConcurrent *int    `json:"max_concurrent,omitempty"`
	AutoSave      *bool   `json:"auto_save,omitempty"`
	OutputDir     *string `json:"output_dir,omitempty" validate:"omitempty,min=1"`
	APIKey        *string `json:"api_key,omitempty"`
}

// ClampConcurrency forces n into [MinMaxConcurrent, MaxMaxConcurrent].
func ClampConcurrency(n int) int {
	return max(MinMaxConcurrent, min(MaxMaxConcurrent, n))
}

// Store is a concurrency-safe settings holder. Reads never touch disk.
type Store struct {
	mu       sync.RWMutex
	v        *viper.Viper
	path     string
	current  Settings
	validate *validator.Validate
}

// Open loads settings from the JSON file at path, falling back to defaults
// for missing keys. A missing file is not an error; it is created on the
// first Update. An empty path keeps settings in memory only.
func Open(path string, defaults Settings) (*Store, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("max_concurrent", defaults.MaxConcurrent)
	v.SetDefault("auto_save", defaults.AutoSave)
	v.SetDefault("output_dir", defaults.OutputDir)
	v.SetDefault("api_key", defaults.APIKey)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
			}
		}
	}

	s := &Store{v: v, path: path, validate: validator.New()}
	if err := v.Unmarshal(&s.current); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.current.MaxConcurrent = ClampConcurrency(s.current.MaxConcurrent)
	return s, nil
}

// Defaults returns the settings used when nothing has been saved yet.
func Defaults(outputDir, apiKey string) Settings {
	return Settings{
		MaxConcurrent: DefaultMaxConcurrent,
		AutoSave:      true,
		OutputDir:     outputDir,
		APIKey:        apiKey,
	}
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// MaxConcurrent returns the clamped concurrency limit.
func (s *Store) MaxConcurrent() int {
	return s.Get().MaxConcurrent
}

// AutoSaveEnabled reports whether finished outputs are copied locally.
func (s *Store) AutoSaveEnabled() bool {
	return s.Get().AutoSave
}

// OutputDir returns the directory auto-saved outputs are written to.
func (s *Store) OutputDir() string {
	return s.Get().OutputDir
}

// APIKey returns the remote API key.
func (s *Store) APIKey() string {
	return s.Get().APIKey
}

// Update applies u, clamps the concurrency limit, and persists the result.
// The in-memory settings only change when persisting succeeds.
func (s *Store) Update(u Update) (Settings, error) {
	if err := s.validate.Struct(u); err != nil {
		return Settings{}, fmt.Errorf("validation failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if u.MaxConcurrent != nil {
		next.MaxConcurrent = ClampConcurrency(*u.MaxConcurrent)
	}
	if u.AutoSave != nil {
		next.AutoSave = *u.AutoSave
	}
	if u.OutputDir != nil {
		next.OutputDir = *u.OutputDir
	}
	if u.APIKey != nil {
		next.APIKey = *u.APIKey
	}

	if s.path != "" {
		s.v.Set("max_concurrent", next.MaxConcurrent)
		s.v.Set("auto_save", next.AutoSave)
		s.v.Set("output_dir", next.OutputDir)
		s.v.Set("api_key", next.APIKey)

		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return Settings{}, fmt.Errorf("failed to create settings directory: %w", err)
		}
		if err := s.v.WriteConfigAs(s.path); err != nil {
			return Settings{}, fmt.Errorf("failed to write settings file %s: %w", s.path, err)
		}
	}

	s.current = next
	return next, nil
}
