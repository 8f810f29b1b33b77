package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/CTAG07/blocktpl/pkg/template"
	"github.com/natefinch/atomic"
)

// Config holds the CLI configuration.
type Config struct {
	// DataDir is the template directory used when no database is set.
	DataDir string `json:"data_dir"`

	// DatabasePath, when non-empty, selects the SQLite template store
	// instead of the directory store.
	DatabasePath string `json:"database_path"`

	LogLevel string `json:"log_level"`

	// TerseSyntax enables the angle-bracket conditional commands.
	TerseSyntax bool `json:"terse_syntax"`

	// Parser safety limits; zero values fall back to the defaults.
	MaxBlockDepth int `json:"max_block_depth"`
	MaxCondDepth  int `json:"max_cond_depth"`
	MaxExpansion  int `json:"max_expansion_bytes"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	lim := template.DefaultLimits()
	return &Config{
		DataDir:       "./templates",
		DatabasePath:  "",
		LogLevel:      "info",
		TerseSyntax:   false,
		MaxBlockDepth: lim.MaxBlockDepth,
		MaxCondDepth:  lim.MaxCondDepth,
		MaxExpansion:  lim.MaxExpansion,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the tool can still run with defaults.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// options converts the configuration into parser options.
func (c *Config) options() template.Options {
	lim := template.DefaultLimits()
	if c.MaxBlockDepth > 0 {
		lim.MaxBlockDepth = c.MaxBlockDepth
	}
	if c.MaxCondDepth > 0 {
		lim.MaxCondDepth = c.MaxCondDepth
	}
	if c.MaxExpansion > 0 {
		lim.MaxExpansion = c.MaxExpansion
	}
	return template.Options{Terse: c.TerseSyntax, Limits: lim}
}
