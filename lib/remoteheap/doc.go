// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package remoteheap tracks what occupies the heap of an inspected
// target process across garbage collections.
//
// The target's collector is free to reuse any address at any time, so
// an address is not an identity. The package hands out Reference
// values instead: a Reference names one particular occupant (an
// object, a free chunk, or dark matter) for as long as that occupant
// exists, and records its death permanently once the occupant is
// reclaimed or overwritten. A client holding a Reference can always
// ask what became of the thing it once pointed at; it never silently
// starts describing a different one.
//
// # Status model
//
// Every Reference is in exactly one status, and statuses only move
// forward:
//
//	LIVE -> UNREACHABLE -> DEAD
//	FREE -> DEAD
//	DARK -> DEAD
//
// DEAD is terminal. A later occupant at the same address gets a fresh
// Reference with no relation to the dead one.
//
// References live in two identity maps: the object map (LIVE and
// UNREACHABLE) and the free-space map (FREE and DARK). At most one map
// holds an entry for any address.
//
// # Reconciliation
//
// The Registry updates reference statuses only inside
// UpdateMemoryStatus, which the session calls once per target halt
// with a fresh epoch. The pass reads everything it needs from the
// frozen target first, then applies a fixed sequence of sweeps; a read
// failure aborts the pass with both maps untouched.
//
// All entry points assert that the caller holds the session's
// inspection lock. Reference.Status is safe to read without it.
package remoteheap
