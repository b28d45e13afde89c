// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Heapscope is the command-line front end of the remote heap
// inspection engine. It attaches to a cooperating process that
// publishes a heap descriptor, halts it briefly around each
// inspection, and tracks references into the collected heap as the
// target's garbage collector moves objects through their lifecycle.
//
// # Commands
//
//   - attach: one-shot probe that halts the target, reads the
//     published descriptor, and reports the collector state and heap
//     region bounds.
//   - watch: poll loop that halts the target at a fixed interval,
//     runs a reconciliation pass, logs the result, and appends a
//     record to the journal. Optionally serves Prometheus metrics.
//   - snapshot: captures the committed heap region during a halt into
//     a content-addressed store, and lists, shows, and verifies
//     stored snapshots.
//   - journal: reads the reconciliation journal that watch writes.
//   - demo: runs the full engine against an in-process simulated
//     heap, no target required.
//
// # Target contract
//
// The target publishes a heap descriptor at a fixed address, given to
// every attaching command via --descriptor. Halting uses SIGSTOP and
// resuming SIGCONT; the target needs no code beyond keeping the
// descriptor current while mutating.
//
// Configuration comes from an optional YAML file (--config or
// HEAPSCOPE_CONFIG); every command runs with built-in defaults when
// no file is present.
package main
