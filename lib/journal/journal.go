// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records one row per observed halt in SQLite: the
// collector state at the halt, the reference counts after the pass,
// and the per-pass transition tallies. The reconciliation engine never
// depends on the journal; the watch loop writes records after each
// successful pass, and the CLI reads them back for post-mortem
// analysis of a target's collection behavior.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/remoteheap"
	"github.com/heapscope/heapscope/lib/sqlitepool"
)

// schema is created on every connection. epoch is the primary key:
// the session hands out each epoch exactly once, so a duplicate insert
// is a caller bug and surfaces as a constraint error.
const schema = `
	CREATE TABLE IF NOT EXISTS epoch_log (
		epoch               INTEGER PRIMARY KEY,
		wall_time           INTEGER NOT NULL,
		phase               TEXT NOT NULL,
		cycles_started      INTEGER NOT NULL,
		cycles_completed    INTEGER NOT NULL,
		live                INTEGER NOT NULL,
		unreachable         INTEGER NOT NULL,
		free_chunks         INTEGER NOT NULL,
		dark_matter         INTEGER NOT NULL,
		created_live        INTEGER NOT NULL,
		created_free        INTEGER NOT NULL,
		created_dark        INTEGER NOT NULL,
		created_unreachable INTEGER NOT NULL,
		became_unreachable  INTEGER NOT NULL,
		died_unreachable    INTEGER NOT NULL,
		died_free           INTEGER NOT NULL,
		died_dark           INTEGER NOT NULL,
		evicted             INTEGER NOT NULL,
		gray_marks          INTEGER NOT NULL,
		duration_ns         INTEGER NOT NULL,
		noop                INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_epoch_log_cycle ON epoch_log(cycles_started);
	CREATE INDEX IF NOT EXISTS idx_epoch_log_time ON epoch_log(wall_time);
`

// Record is one journal row: the state observed at a single halt. The
// json tags drive the CLI's --json output.
type Record struct {
	// Epoch is the session halt this record describes.
	Epoch uint64 `json:"epoch"`

	// WallTime is when the halt happened.
	WallTime time.Time `json:"wall_time"`

	// Collector state observed at the halt.
	Phase           gcphase.Phase `json:"phase"`
	CyclesStarted   uint64        `json:"cycles_started"`
	CyclesCompleted uint64        `json:"cycles_completed"`

	// Tracked references by status after the pass.
	Live        int `json:"live"`
	Unreachable int `json:"unreachable"`
	FreeChunks  int `json:"free_chunks"`
	DarkMatter  int `json:"dark_matter"`

	// Transitions during this pass (deltas, not running totals).
	CreatedLive        uint64 `json:"created_live"`
	CreatedFree        uint64 `json:"created_free"`
	CreatedDark        uint64 `json:"created_dark"`
	CreatedUnreachable uint64 `json:"created_unreachable"`
	BecameUnreachable  uint64 `json:"became_unreachable"`
	DiedUnreachable    uint64 `json:"died_unreachable"`
	DiedFree           uint64 `json:"died_free"`
	DiedDark           uint64 `json:"died_dark"`
	Evicted            uint64 `json:"evicted"`
	GrayMarks          uint64 `json:"gray_marks"`

	// Duration is the wall time of the whole halt cycle, including the
	// target stop and resume.
	Duration time.Duration `json:"duration_ns"`

	// NoOp reports that the halt applied no reconciliation pass (the
	// heap region was not discovered yet, or the epoch was already
	// processed).
	NoOp bool `json:"noop"`
}

// FromStats builds the record for the halt identified by epoch, given
// registry snapshots taken before and after it. Transition fields are
// the deltas of the registry's cumulative tallies.
func FromStats(epoch uint64, prev, cur remoteheap.Stats, wallTime time.Time, duration time.Duration) Record {
	return Record{
		Epoch:    epoch,
		WallTime: wallTime,

		Phase:           cur.Phase,
		CyclesStarted:   cur.CyclesStarted,
		CyclesCompleted: cur.CyclesCompleted,

		Live:        cur.Live,
		Unreachable: cur.Unreachable,
		FreeChunks:  cur.FreeChunks,
		DarkMatter:  cur.DarkMatter,

		CreatedLive:        cur.CreatedLive - prev.CreatedLive,
		CreatedFree:        cur.CreatedFree - prev.CreatedFree,
		CreatedDark:        cur.CreatedDark - prev.CreatedDark,
		CreatedUnreachable: cur.CreatedUnreachable - prev.CreatedUnreachable,
		BecameUnreachable:  cur.BecameUnreachable - prev.BecameUnreachable,
		DiedUnreachable:    cur.DiedUnreachable - prev.DiedUnreachable,
		DiedFree:           cur.DiedFree - prev.DiedFree,
		DiedDark:           cur.DiedDark - prev.DiedDark,
		Evicted:            cur.Evicted - prev.Evicted,
		GrayMarks:          cur.GrayMarks - prev.GrayMarks,

		Duration: duration,
		NoOp:     cur.Passes == prev.Passes,
	}
}

// Config holds the parameters for opening a journal.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Journal is the SQLite-backed epoch log. Safe for concurrent use;
// the watch loop appends while CLI queries read.
type Journal struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open creates or opens a journal database. The schema is applied on
// every connection. The caller must call Close when done.
func Open(cfg Config) (*Journal, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	return &Journal{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (j *Journal) Close() error {
	return j.pool.Close()
}

// Append inserts one record. Appending the same epoch twice is an
// error.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	defer j.pool.Put(conn)

	noop := 0
	if rec.NoOp {
		noop = 1
	}

	err = sqlitex.Execute(conn, `INSERT INTO epoch_log
		(epoch, wall_time, phase, cycles_started, cycles_completed,
		 live, unreachable, free_chunks, dark_matter,
		 created_live, created_free, created_dark, created_unreachable,
		 became_unreachable, died_unreachable, died_free, died_dark,
		 evicted, gray_marks, duration_ns, noop)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				int64(rec.Epoch),
				rec.WallTime.UnixNano(),
				rec.Phase.String(),
				int64(rec.CyclesStarted),
				int64(rec.CyclesCompleted),
				rec.Live,
				rec.Unreachable,
				rec.FreeChunks,
				rec.DarkMatter,
				int64(rec.CreatedLive),
				int64(rec.CreatedFree),
				int64(rec.CreatedDark),
				int64(rec.CreatedUnreachable),
				int64(rec.BecameUnreachable),
				int64(rec.DiedUnreachable),
				int64(rec.DiedFree),
				int64(rec.DiedDark),
				int64(rec.Evicted),
				int64(rec.GrayMarks),
				int64(rec.Duration),
				noop,
			},
		})
	if err != nil {
		return fmt.Errorf("journal: append epoch %d: %w", rec.Epoch, err)
	}
	return nil
}

// recordColumns is the select list every query uses, in the order
// scanRecord expects.
const recordColumns = `epoch, wall_time, phase, cycles_started, cycles_completed,
	live, unreachable, free_chunks, dark_matter,
	created_live, created_free, created_dark, created_unreachable,
	became_unreachable, died_unreachable, died_free, died_dark,
	evicted, gray_marks, duration_ns, noop`

// Recent returns the n newest records, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer j.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		"SELECT "+recordColumns+" FROM epoch_log ORDER BY epoch DESC LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{n},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return records, nil
}

// ByCycle returns every record observed during the collection cycle
// with the given started counter, oldest first. Covers the halts from
// the cycle's ANALYZING entry until the next cycle starts.
func (j *Journal) ByCycle(ctx context.Context, started uint64) ([]Record, error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: by cycle: %w", err)
	}
	defer j.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		"SELECT "+recordColumns+" FROM epoch_log WHERE cycles_started = ? ORDER BY epoch ASC",
		&sqlitex.ExecOptions{
			Args: []any{int64(started)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("journal: by cycle %d: %w", started, err)
	}
	return records, nil
}

// Purge deletes records with a wall time before the cutoff. Returns
// the number of rows deleted.
func (j *Journal) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: purge: %w", err)
	}
	defer j.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM epoch_log WHERE wall_time < ?",
		&sqlitex.ExecOptions{
			Args: []any{olderThan.UnixNano()},
		})
	if err != nil {
		return 0, fmt.Errorf("journal: purge: %w", err)
	}

	deleted := conn.Changes()
	if deleted > 0 {
		j.logger.Info("journal purged",
			"deleted", deleted,
			"older_than", olderThan.UTC().Format(time.RFC3339),
		)
	}
	return deleted, nil
}

// scanRecord reads one epoch_log row in recordColumns order.
func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	var rec Record

	// Columns: epoch(0), wall_time(1), phase(2), cycles_started(3),
	// cycles_completed(4), live(5), unreachable(6), free_chunks(7),
	// dark_matter(8), created_live(9), created_free(10),
	// created_dark(11), created_unreachable(12),
	// became_unreachable(13), died_unreachable(14), died_free(15),
	// died_dark(16), evicted(17), gray_marks(18), duration_ns(19),
	// noop(20)

	rec.Epoch = uint64(stmt.ColumnInt64(0))
	rec.WallTime = time.Unix(0, stmt.ColumnInt64(1)).UTC()

	phase, err := gcphase.ParsePhase(stmt.ColumnText(2))
	if err != nil {
		return rec, fmt.Errorf("journal: epoch %d: %w", rec.Epoch, err)
	}
	rec.Phase = phase

	rec.CyclesStarted = uint64(stmt.ColumnInt64(3))
	rec.CyclesCompleted = uint64(stmt.ColumnInt64(4))
	rec.Live = stmt.ColumnInt(5)
	rec.Unreachable = stmt.ColumnInt(6)
	rec.FreeChunks = stmt.ColumnInt(7)
	rec.DarkMatter = stmt.ColumnInt(8)
	rec.CreatedLive = uint64(stmt.ColumnInt64(9))
	rec.CreatedFree = uint64(stmt.ColumnInt64(10))
	rec.CreatedDark = uint64(stmt.ColumnInt64(11))
	rec.CreatedUnreachable = uint64(stmt.ColumnInt64(12))
	rec.BecameUnreachable = uint64(stmt.ColumnInt64(13))
	rec.DiedUnreachable = uint64(stmt.ColumnInt64(14))
	rec.DiedFree = uint64(stmt.ColumnInt64(15))
	rec.DiedDark = uint64(stmt.ColumnInt64(16))
	rec.Evicted = uint64(stmt.ColumnInt64(17))
	rec.GrayMarks = uint64(stmt.ColumnInt64(18))
	rec.Duration = time.Duration(stmt.ColumnInt64(19))
	rec.NoOp = stmt.ColumnInt(20) != 0

	return rec, nil
}
