// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides heapscope's standard CBOR encoding
// configuration.
//
// Heapscope draws a clear boundary between its serialization formats:
//
//   - YAML (lib/config) for the human-edited command configuration.
//   - JSON for the rest of the human surface: layout profiles
//     (JSON with comments, lib/layout) and --json command output.
//   - CBOR for machine artifacts: the snapshot manifests written by
//     lib/snapshot.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every heapscope package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Snapshots are content-addressed by their
// payload bytes, not their manifests, so determinism is not what names
// them; what it buys is that re-encoding an unchanged manifest always
// reproduces the stored bytes, so byte comparison answers "has this
// manifest changed".
//
// For buffer-oriented operations (manifests):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It never
//     appears in JSON output.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Example: the snapshot manifest,
//     which is stored as CBOR but printed as JSON by the CLI.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract.
package codec
