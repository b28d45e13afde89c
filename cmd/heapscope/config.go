// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/config"
	"github.com/heapscope/heapscope/lib/layout"
	"github.com/heapscope/heapscope/lib/secret"
	"github.com/heapscope/heapscope/lib/snapshot"
)

// loadConfig resolves the effective configuration: an explicit --config
// path wins, then HEAPSCOPE_CONFIG when set, then built-in defaults.
// Unlike a daemon, the CLI treats configuration as optional; every
// value has a usable local default. The result is validated in all
// three cases.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("HEAPSCOPE_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// commandLogger builds the stderr logger for a command run.
func commandLogger(verbose bool) *slog.Logger {
	if verbose {
		return cli.NewVerboseCommandLogger()
	}
	return cli.NewCommandLogger()
}

// layoutProfile loads the configured layout profile, or the built-in
// default when none is configured.
func layoutProfile(cfg *config.Config) (*layout.Profile, error) {
	path := cfg.LayoutProfilePath()
	if path == "" {
		return layout.Default(), nil
	}
	profile, err := layout.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout profile: %w", err)
	}
	return profile, nil
}

// sessionKeyFromFile loads the hex-encoded snapshot key at path. An
// empty path disables encryption. The caller owns the returned buffer.
func sessionKeyFromFile(path string) (*secret.Buffer, error) {
	if path == "" {
		return nil, nil
	}
	text, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	defer text.Close()

	raw := make([]byte, hex.DecodedLen(text.Len()))
	if _, err := hex.Decode(raw, text.Bytes()); err != nil {
		secret.Zero(raw)
		return nil, fmt.Errorf("key file %s: not hex: %w", path, err)
	}
	return secret.NewFromBytes(raw)
}

// resolveCompression maps a configured compression name to a store
// tag. "auto" (or empty) returns nil, which lets the store probe each
// capture for compressibility.
func resolveCompression(name string) (*snapshot.CompressionTag, error) {
	if name == "" || name == "auto" {
		return nil, nil
	}
	tag, err := snapshot.ParseCompressionTag(name)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}
