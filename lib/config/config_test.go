// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Paths.Root == "" {
		t.Error("expected a non-empty default root")
	}

	if cfg.Watch.Interval != "2s" {
		t.Errorf("expected interval=2s, got %s", cfg.Watch.Interval)
	}

	if cfg.Snapshot.Compression != "auto" {
		t.Errorf("expected compression=auto, got %s", cfg.Snapshot.Compression)
	}

	if cfg.Eviction.Horizon != 0 {
		t.Errorf("expected horizon=0, got %d", cfg.Eviction.Horizon)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresHeapscopeConfig(t *testing.T) {
	// Save and restore HEAPSCOPE_CONFIG.
	origConfig := os.Getenv("HEAPSCOPE_CONFIG")
	defer os.Setenv("HEAPSCOPE_CONFIG", origConfig)

	// Unset HEAPSCOPE_CONFIG - Load() should fail.
	os.Unsetenv("HEAPSCOPE_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when HEAPSCOPE_CONFIG not set, got nil")
	}

	expectedMsg := "HEAPSCOPE_CONFIG environment variable not set"
	if err.Error()[:len(expectedMsg)] != expectedMsg {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithHeapscopeConfig(t *testing.T) {
	// Save and restore HEAPSCOPE_CONFIG.
	origConfig := os.Getenv("HEAPSCOPE_CONFIG")
	defer os.Setenv("HEAPSCOPE_CONFIG", origConfig)

	// Create temp config file.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "heapscope.yaml")

	configContent := `
paths:
  root: /test/root
watch:
  interval: 5s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	// Set HEAPSCOPE_CONFIG and load.
	os.Setenv("HEAPSCOPE_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Paths.Root != "/test/root" {
		t.Errorf("expected root=/test/root, got %s", cfg.Paths.Root)
	}

	if cfg.Watch.Interval != "5s" {
		t.Errorf("expected interval=5s, got %s", cfg.Watch.Interval)
	}
}

func TestLoadFile(t *testing.T) {
	// Create temp config file.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "heapscope.yaml")

	configContent := `
paths:
  root: /custom/root
  journal: /custom/root/log.db

layout:
  profile: simulated-ms-64.jsonc

watch:
  interval: 250ms
  metrics_listen: "localhost:9142"

snapshot:
  compression: zstd
  key_file: /custom/session.key

eviction:
  horizon: 32
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Root != "/custom/root" {
		t.Errorf("expected root=/custom/root, got %s", cfg.Paths.Root)
	}

	if cfg.Paths.Journal != "/custom/root/log.db" {
		t.Errorf("expected journal=/custom/root/log.db, got %s", cfg.Paths.Journal)
	}

	// Unset sections keep their defaults.
	if cfg.Paths.Snapshots == "" {
		t.Error("expected snapshots path to keep its default")
	}

	if cfg.Watch.Interval != "250ms" {
		t.Errorf("expected interval=250ms, got %s", cfg.Watch.Interval)
	}

	if cfg.Watch.MetricsListen != "localhost:9142" {
		t.Errorf("expected metrics_listen=localhost:9142, got %s", cfg.Watch.MetricsListen)
	}

	if cfg.Snapshot.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Snapshot.Compression)
	}

	if cfg.Snapshot.KeyFile != "/custom/session.key" {
		t.Errorf("expected key_file=/custom/session.key, got %s", cfg.Snapshot.KeyFile)
	}

	if cfg.Eviction.Horizon != 32 {
		t.Errorf("expected horizon=32, got %d", cfg.Eviction.Horizon)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	// Verify that environment variables do NOT override config file values.
	// The config file is the single source of truth for deterministic
	// configuration.

	origRoot := os.Getenv("HEAPSCOPE_ROOT")
	defer os.Setenv("HEAPSCOPE_ROOT", origRoot)

	os.Setenv("HEAPSCOPE_ROOT", "/env/root")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "heapscope.yaml")

	configContent := `
paths:
  root: /file/root
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	// File values should be used, NOT env vars.
	if cfg.Paths.Root != "/file/root" {
		t.Errorf("expected root=/file/root from file, got %s (env vars should not override)", cfg.Paths.Root)
	}
}

func TestExpandRootIntoDependentPaths(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "heapscope.yaml")

	configContent := `
paths:
  root: /data/heapscope
  journal: ${HEAPSCOPE_ROOT}/journal.db
  snapshots: ${HEAPSCOPE_ROOT}/snaps
snapshot:
  key_file: ${HEAPSCOPE_ROOT}/session.key
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Journal != "/data/heapscope/journal.db" {
		t.Errorf("expected journal under the configured root, got %s", cfg.Paths.Journal)
	}

	if cfg.Paths.Snapshots != "/data/heapscope/snaps" {
		t.Errorf("expected snapshots under the configured root, got %s", cfg.Paths.Snapshots)
	}

	if cfg.Snapshot.KeyFile != "/data/heapscope/session.key" {
		t.Errorf("expected key file under the configured root, got %s", cfg.Snapshot.KeyFile)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/heapscope",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/heapscope",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty root path",
			modify: func(c *Config) {
				c.Paths.Root = ""
			},
			wantErr: true,
		},
		{
			name: "empty journal path",
			modify: func(c *Config) {
				c.Paths.Journal = ""
			},
			wantErr: true,
		},
		{
			name: "unparseable interval",
			modify: func(c *Config) {
				c.Watch.Interval = "soon"
			},
			wantErr: true,
		},
		{
			name: "negative interval",
			modify: func(c *Config) {
				c.Watch.Interval = "-1s"
			},
			wantErr: true,
		},
		{
			name: "metrics listen without port",
			modify: func(c *Config) {
				c.Watch.MetricsListen = "localhost"
			},
			wantErr: true,
		},
		{
			name: "metrics listen with port",
			modify: func(c *Config) {
				c.Watch.MetricsListen = ":9142"
			},
			wantErr: false,
		},
		{
			name: "invalid compression value",
			modify: func(c *Config) {
				c.Snapshot.Compression = "gzip"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPollInterval(t *testing.T) {
	cfg := Default()
	cfg.Watch.Interval = "750ms"

	interval, err := cfg.PollInterval()
	if err != nil {
		t.Fatalf("PollInterval failed: %v", err)
	}
	if interval != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", interval)
	}
}

func TestLayoutProfilePath(t *testing.T) {
	cfg := Default()
	cfg.Paths.Profiles = "/etc/heapscope/profiles"

	cfg.Layout.Profile = ""
	if got := cfg.LayoutProfilePath(); got != "" {
		t.Errorf("empty profile should resolve to no file, got %q", got)
	}

	cfg.Layout.Profile = "tiny-gc.jsonc"
	if got := cfg.LayoutProfilePath(); got != "/etc/heapscope/profiles/tiny-gc.jsonc" {
		t.Errorf("expected the name resolved under paths.profiles, got %q", got)
	}

	cfg.Layout.Profile = "/opt/profiles/custom.jsonc"
	if got := cfg.LayoutProfilePath(); got != "/opt/profiles/custom.jsonc" {
		t.Errorf("expected an absolute profile to pass through, got %q", got)
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.Root = filepath.Join(tmpDir, "heapscope")
	cfg.Paths.Journal = filepath.Join(cfg.Paths.Root, "journal", "log.db")
	cfg.Paths.Snapshots = filepath.Join(cfg.Paths.Root, "snapshots")
	cfg.Paths.Profiles = filepath.Join(cfg.Paths.Root, "profiles")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	// Verify directories were created. The journal gets its parent
	// directory; the database file itself is the journal's to create.
	checks := []string{
		cfg.Paths.Root,
		cfg.Paths.Snapshots,
		cfg.Paths.Profiles,
		filepath.Dir(cfg.Paths.Journal),
	}
	for _, path := range checks {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}
