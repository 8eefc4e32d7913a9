// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

// Package config loads server configuration from defaults, an optional
// YAML file, and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds the coordinator's runtime configuration.
type Config struct {
	// AdminAddr is the administrative HTTP listen address.
	AdminAddr string `koanf:"admin-addr"`
	// MetricsAddr is the metrics/health HTTP address (empty = disabled).
	MetricsAddr string `koanf:"metrics-addr"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log-format"`
	// PluginsDir is scanned for module binaries at startup.
	PluginsDir string `koanf:"plugins-dir"`
	// ModulePattern is the glob matched against module file names.
	ModulePattern string `koanf:"module-pattern"`
	// Watch enables auto-loading of modules dropped into PluginsDir.
	Watch bool `koanf:"watch"`
	// UnloadTimeoutSeconds bounds the client confirmation wait.
	UnloadTimeoutSeconds int `koanf:"unload-timeout-seconds"`
	// Services are host services advertised to plugin factories.
	Services map[string]map[string]string `koanf:"services"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AdminAddr:            "127.0.0.1:9200",
		MetricsAddr:          "127.0.0.1:9100",
		LogFormat:            "json",
		ModulePattern:        "*.plugin",
		UnloadTimeoutSeconds: 10,
	}
}

// Load layers an optional YAML file and the given flags over defaults.
// Flags that were not set on the command line do not shadow file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.AdminAddr == "" {
		return fmt.Errorf("admin-addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.ModulePattern == "" {
		return fmt.Errorf("module-pattern is required")
	}
	if c.UnloadTimeoutSeconds <= 0 {
		return fmt.Errorf("unload-timeout-seconds must be positive, got %d", c.UnloadTimeoutSeconds)
	}
	return nil
}

// UnloadTimeout returns the confirmation wait as a duration.
func (c *Config) UnloadTimeout() time.Duration {
	return time.Duration(c.UnloadTimeoutSeconds) * time.Second
}
