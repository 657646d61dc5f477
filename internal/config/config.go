// Package config holds rerequire's runtime settings and the optional preload
// manifest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itsmostafa/rerequire/internal/resolve"
)

// Config holds settings for one shell session.
type Config struct {
	// Debounce is the window during which repeated change events for a
	// watched file are dropped (default: 1s)
	Debounce time.Duration

	// Evict is the eviction policy: "dependencies" or "both" (default: dependencies)
	Evict string

	// Preload is an optional manifest of bindings to create at startup
	Preload string

	// HistoryFile stores shell history (empty disables history)
	HistoryFile string

	// LogLevel is one of debug, info, warn, error (default: warn)
	LogLevel string

	// LogFormat is "text" or "json" (default: text)
	LogFormat string

	// Color enables styled output (default: true)
	Color bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".rerequire_history")
	}
	return Config{
		Debounce:    time.Second,
		Evict:       "dependencies",
		HistoryFile: history,
		LogLevel:    "warn",
		LogFormat:   "text",
		Color:       true,
	}
}

// Validate checks field values that flags cannot constrain.
func (c Config) Validate() error {
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	switch c.Evict {
	case "dependencies", "both":
	default:
		return fmt.Errorf("invalid evict policy: %s (must be one of: dependencies, both)", c.Evict)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", c.LogFormat)
	}
	return nil
}

// Binding is one preload entry.
type Binding struct {
	Module string `yaml:"module"`
	Global string `yaml:"global"`
}

// Manifest lists modules to bind when the shell starts.
type Manifest struct {
	Bindings []Binding `yaml:"bindings"`
}

// LoadManifest reads and validates a preload manifest. Relative module
// identifiers are made absolute against the manifest's directory, so a
// manifest works from any working directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preload manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse preload manifest %s: %w", path, err)
	}

	var errs []error
	for i, b := range manifest.Bindings {
		if b.Module == "" {
			errs = append(errs, fmt.Errorf("bindings[%d]: module is required", i))
		}
		if b.Global == "" {
			errs = append(errs, fmt.Errorf("bindings[%d]: global is required", i))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid preload manifest %s: %w", path, errors.Join(errs...))
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve preload manifest directory: %w", err)
	}
	for i, b := range manifest.Bindings {
		if resolve.IsRelative(b.Module) {
			manifest.Bindings[i].Module = filepath.Join(dir, b.Module)
		}
	}
	return &manifest, nil
}
