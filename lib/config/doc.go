// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for heapscope commands.
//
// Configuration is loaded from a single file specified by either the
// HEAPSCOPE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]); commands fall back to [Default] when neither is
// set. There is no ~/.config discovery and no automatic file search.
// One file overlays the defaults, nothing else does.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${HEAPSCOPE_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Layout, Watch, Snapshot, Eviction
//   - [Default] -- returns a Config with local-cache defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other heapscope packages; callers translate
// its string fields (compression names, profile paths) into the types the
// consuming packages expect.
package config
