// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data, in
// heapscope the snapshot encryption key.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing key material does not persist after release.
//
// The exclusion from core dumps matters doubly here: heapscope is a
// memory inspector, and an inspector whose own dumps leak the key that
// encrypts its snapshots would undermine the point of encrypting them.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads a key file, or stdin when path is "-"
//
// Access via [Buffer.Bytes] (slice into the mmap region) or
// [Buffer.String] (heap copy for API boundaries). [Buffer.Equal] uses
// constant-time comparison. After Close, any access panics. Close is
// idempotent.
//
// Depends on golang.org/x/sys/unix. Imported by lib/snapshot for
// session-key handling and per-snapshot key derivation.
package secret
