// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for heapscope commands.
//
// Configuration is loaded from a single file specified by:
//   - HEAPSCOPE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// With neither set, commands run on the built-in defaults (everything
// under ~/.cache/heapscope). There is no search path and no merging of
// multiple files: one file overlays the defaults, nothing else does.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for heapscope.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Layout selects the target memory layout profile.
	Layout LayoutConfig `yaml:"layout"`

	// Watch configures the poll loop.
	Watch WatchConfig `yaml:"watch"`

	// Snapshot configures the snapshot store.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Eviction configures reference-map eviction.
	Eviction EvictionConfig `yaml:"eviction"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for heapscope data.
	Root string `yaml:"root"`

	// Journal is the epoch journal database file.
	Journal string `yaml:"journal"`

	// Snapshots is the snapshot store directory.
	Snapshots string `yaml:"snapshots"`

	// Profiles is the directory holding layout profile files.
	Profiles string `yaml:"profiles"`
}

// LayoutConfig selects the target memory layout profile.
type LayoutConfig struct {
	// Profile is a layout profile file: an absolute path, or a name
	// resolved under Paths.Profiles. Empty selects the built-in
	// simulated mark-sweep profile.
	Profile string `yaml:"profile"`
}

// WatchConfig configures the watch poll loop.
type WatchConfig struct {
	// Interval is the delay between halts, as a Go duration string.
	// Default: 2s
	Interval string `yaml:"interval"`

	// MetricsListen is the host:port for the Prometheus /metrics
	// endpoint. Empty disables the endpoint.
	MetricsListen string `yaml:"metrics_listen"`
}

// SnapshotConfig configures the snapshot store.
type SnapshotConfig struct {
	// Compression selects the payload compression: "auto" probes each
	// capture, the rest force one codec.
	// Values: "auto", "zstd", "lz4", "none"
	// Default: auto
	Compression string `yaml:"compression"`

	// KeyFile is the path of a session key file. Snapshots are
	// encrypted when it is set and stored in the clear otherwise.
	KeyFile string `yaml:"key_file"`
}

// EvictionConfig configures reference-map eviction.
type EvictionConfig struct {
	// Horizon is the number of epochs a reference may go unqueried
	// before the registry forgets its identity. Zero keeps every
	// reference for the life of the session.
	Horizon uint64 `yaml:"horizon"`
}

// Default returns the built-in configuration: data under
// ~/.cache/heapscope, a 2s watch interval, probed compression, no
// snapshot encryption, no eviction horizon. Commands run directly on
// these when no config file is given; LoadFile overlays a file on top.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "heapscope")

	return &Config{
		Paths: PathsConfig{
			Root:      defaultRoot,
			Journal:   filepath.Join(defaultRoot, "journal.db"),
			Snapshots: filepath.Join(defaultRoot, "snapshots"),
			Profiles:  filepath.Join(defaultRoot, "profiles"),
		},
		Layout: LayoutConfig{
			Profile: "",
		},
		Watch: WatchConfig{
			Interval:      "2s",
			MetricsListen: "",
		},
		Snapshot: SnapshotConfig{
			Compression: "auto",
			KeyFile:     "",
		},
		Eviction: EvictionConfig{
			Horizon: 0,
		},
	}
}

// Load loads configuration from the path in the HEAPSCOPE_CONFIG
// environment variable. Fails if the variable is not set; callers that
// want the built-in defaults in that case use Default directly.
func Load() (*Config, error) {
	configPath := os.Getenv("HEAPSCOPE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HEAPSCOPE_CONFIG environment variable not set; " +
			"set it to the path of your heapscope.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, overlaying
// it on the built-in defaults.
//
// Environment variables do not override config values. The only
// expansion performed is ${HOME} and similar path variables inside
// configured paths, for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HEAPSCOPE_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["HEAPSCOPE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Journal = expandVars(c.Paths.Journal, vars)
	c.Paths.Snapshots = expandVars(c.Paths.Snapshots, vars)
	c.Paths.Profiles = expandVars(c.Paths.Profiles, vars)
	c.Layout.Profile = expandVars(c.Layout.Profile, vars)
	c.Snapshot.KeyFile = expandVars(c.Snapshot.KeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Journal == "" {
		errs = append(errs, fmt.Errorf("paths.journal is required"))
	}
	if c.Paths.Snapshots == "" {
		errs = append(errs, fmt.Errorf("paths.snapshots is required"))
	}

	if interval, err := time.ParseDuration(c.Watch.Interval); err != nil {
		errs = append(errs, fmt.Errorf("watch.interval: %w", err))
	} else if interval <= 0 {
		errs = append(errs, fmt.Errorf("watch.interval must be positive, got %s", interval))
	}

	if c.Watch.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.Watch.MetricsListen); err != nil {
			errs = append(errs, fmt.Errorf("watch.metrics_listen: %w", err))
		}
	}

	compressionValues := []string{"auto", "zstd", "lz4", "none"}
	if !contains(compressionValues, c.Snapshot.Compression) {
		errs = append(errs, fmt.Errorf("snapshot.compression must be one of: %v", compressionValues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PollInterval returns the parsed watch interval. Validate reports the
// parse failure with context; this returns it raw.
func (c *Config) PollInterval() (time.Duration, error) {
	return time.ParseDuration(c.Watch.Interval)
}

// LayoutProfilePath resolves Layout.Profile to a file path. Empty means
// no file: the caller uses the built-in default profile.
func (c *Config) LayoutProfilePath() string {
	if c.Layout.Profile == "" {
		return ""
	}
	if filepath.IsAbs(c.Layout.Profile) {
		return c.Layout.Profile
	}
	return filepath.Join(c.Paths.Profiles, c.Layout.Profile)
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Snapshots,
		c.Paths.Profiles,
	}
	if c.Paths.Journal != "" {
		paths = append(paths, filepath.Dir(c.Paths.Journal))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
