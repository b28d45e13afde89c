// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package gcphase defines the collector-phase and mark-color vocabulary
// reported by an inspected target, and the Oracle interface through
// which the reconciliation engine observes them.
//
// A stop-the-world collector cycles through three phases. During
// MUTATING the program runs and allocates; the mark state is
// meaningless. ANALYZING traces reachability and populates the mark
// bitmap. RECLAIMING sweeps unmarked memory back into free space.
// Entering ANALYZING starts a cycle (the started counter advances);
// returning to MUTATING completes it (the completed counter advances).
package gcphase

import (
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
)

// Phase is the collector's current phase as observed at a halt.
type Phase int

const (
	// Mutating: the program is running; the heap changes only by
	// allocation, and mark state carries no meaning.
	Mutating Phase = iota

	// Analyzing: the collector is tracing reachability. Object
	// locations are stable but reachability is not yet decided.
	Analyzing

	// Reclaiming: tracing is complete and the mark bitmap is
	// authoritative; unmarked memory is being swept to free space.
	Reclaiming
)

// String returns the phase name in the collector's own vocabulary.
func (p Phase) String() string {
	switch p {
	case Mutating:
		return "MUTATING"
	case Analyzing:
		return "ANALYZING"
	case Reclaiming:
		return "RECLAIMING"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// IsCollecting reports whether a collection cycle is in progress.
func (p Phase) IsCollecting() bool {
	return p == Analyzing || p == Reclaiming
}

// ParsePhase parses a phase from its String form. Used when reading
// journal rows back.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "MUTATING":
		return Mutating, nil
	case "ANALYZING":
		return Analyzing, nil
	case "RECLAIMING":
		return Reclaiming, nil
	default:
		return 0, fmt.Errorf("unknown collector phase %q", s)
	}
}

// MarshalText encodes the phase as its String form, so JSON output
// carries "RECLAIMING" rather than a bare integer.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase from its String form.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarkColor is the per-object reachability color recorded in the
// collector's mark bitmap. Colors are meaningful only outside the
// MUTATING phase.
type MarkColor int

const (
	// White: not yet reached by the trace. After ANALYZING completes,
	// white means unreachable.
	White MarkColor = iota

	// Gray: reached but not yet scanned. Gray exists only while the
	// trace is in progress; observing it at a RECLAIMING halt is an
	// anomaly.
	Gray

	// Black: reached and fully scanned. After ANALYZING completes,
	// black means reachable.
	Black
)

// String returns the color name.
func (c MarkColor) String() string {
	switch c {
	case White:
		return "WHITE"
	case Gray:
		return "GRAY"
	case Black:
		return "BLACK"
	default:
		return fmt.Sprintf("MarkColor(%d)", int(c))
	}
}

// Oracle is the engine's window into the collector's bookkeeping.
// Implementations read from a published descriptor in target memory
// (lib/target) or from a simulated heap (lib/simheap).
//
// Phase and the cycle counters reflect state cached at the last
// refresh; implementations backed by a live target re-read their
// descriptor when the session refreshes them at a halt.
type Oracle interface {
	// Phase returns the collector's current phase.
	Phase() Phase

	// StartedCount returns the number of collection cycles ever
	// started. Monotonic.
	StartedCount() uint64

	// CompletedCount returns the number of collection cycles ever
	// completed. Monotonic; never exceeds StartedCount.
	CompletedCount() uint64

	// MarkColorAt returns the mark color covering origin. Defined only
	// outside the MUTATING phase; the result is unspecified during
	// MUTATING. An error means the bitmap could not be read.
	MarkColorAt(origin addr.Address) (MarkColor, error)
}
