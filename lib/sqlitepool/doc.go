// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a heapscope-standard SQLite connection
// pool.
//
// Heapscope keeps its reconciliation journal in SQLite (lib/journal),
// and both the long-running watch loop and short-lived CLI queries go
// through this package. It wraps zombiezen.com/go/sqlite with
// production-ready defaults: WAL journal mode, NORMAL synchronous for
// process-crash durability without fsync-per-commit overhead,
// memory-mapped I/O for read performance, and a busy timeout so a CLI
// query and the watch loop's writer do not trip over each other.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use. Each goroutine must hold its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. A journal query never blocks the watch loop's
//     append; the append never blocks a query.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across OS crashes or power failure, which is acceptable
//     because the journal records observations of a live target; a
//     lost tail can be re-observed, not reconstructed.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: the journal is flat tables keyed by epoch.
//     There is nothing for FK machinery to enforce.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=67108864: 64 MB memory-mapped I/O for reads. Journal
//     databases stay small; this covers years of halts without
//     read(2) syscall overhead.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     "/var/lib/heapscope/journal.db",
//	    PoolSize: 4,
//	    Logger:   logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        // Create tables, register functions, etc.
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. There is no attempt
// to abstract away SQLite's connection model or invent a query builder.
// Consumers write SQL, use sqlitex.Execute for cached statements, and
// manage transactions with sqlitex.ImmediateTransaction. The goal is a
// shared foundation (one dependency, one set of pragmas, one pool
// pattern) without an abstraction layer that fights SQLite's strengths.
package sqlitepool
