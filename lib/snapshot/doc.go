// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot captures and stores point-in-time images of a
// managed region.
//
// A capture is the committed bytes of one region, read while the
// target is halted, together with the collector state observed at the
// same halt: epoch, phase, and the cycle counters. The store names
// each snapshot by the BLAKE3 keyed digest of its uncompressed bytes,
// so identical captures deduplicate and every read can be verified
// against the name it was fetched under.
//
// On disk a snapshot is two files under hex-sharded directories: the
// payload (compressed, optionally encrypted) and a CBOR manifest
// describing the capture. Compression is selected by probing the
// bytes; a heap full of zeroed space and repeated pointer words
// compresses far better than one holding ciphertext or packed media,
// and the probe picks zstd, LZ4, or nothing accordingly. A store
// configured with a session key seals each payload with
// XChaCha20-Poly1305 under a per-snapshot key derived via HKDF-SHA256,
// with the snapshot's content address bound in as authenticated data.
//
// Writes are atomic (temp file plus rename) and ordered payload
// first: a manifest never appears without its payload, and the
// manifest's presence is what makes a snapshot exist.
package snapshot
