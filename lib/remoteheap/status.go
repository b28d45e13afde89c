// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import "fmt"

// Status is the lifecycle state of a Reference. The zero value is
// Live, but references are only ever created through the registry, so
// the zero value never escapes.
type Status int

const (
	// Live: a reachable object, available for inspection.
	Live Status = iota

	// Unreachable: an object the collector has determined
	// unreachable, still intact but awaiting reclamation.
	Unreachable

	// Free: a chunk of memory on the collector's free list.
	Free

	// Dark: unreachable space too small for the collector to manage
	// as reusable free space.
	Dark

	// Dead: the occupant this reference named no longer exists.
	// Terminal.
	Dead
)

// String returns the status name in the upper-case form used in logs
// and reports.
func (s Status) String() string {
	switch s {
	case Live:
		return "LIVE"
	case Unreachable:
		return "UNREACHABLE"
	case Free:
		return "FREE"
	case Dark:
		return "DARK"
	case Dead:
		return "DEAD"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Description returns a one-line account of the status for reports.
func (s Status) Description() string {
	switch s {
	case Live:
		return "reachable object, available for inspection"
	case Unreachable:
		return "object determined unreachable, awaiting reclamation"
	case Free:
		return "free chunk available to the target's allocator"
	case Dark:
		return "unreachable space too small to reuse"
	case Dead:
		return "former occupant, no longer present"
	default:
		return "unknown status"
	}
}

// IsLive reports whether the status is Live.
func (s Status) IsLive() bool { return s == Live }

// IsUnreachable reports whether the status is Unreachable.
func (s Status) IsUnreachable() bool { return s == Unreachable }

// IsFree reports whether the status is Free.
func (s Status) IsFree() bool { return s == Free }

// IsDark reports whether the status is Dark.
func (s Status) IsDark() bool { return s == Dark }

// IsDead reports whether the status is Dead.
func (s Status) IsDead() bool { return s == Dead }

// IsQuasi reports whether the status names a quasi-object: something
// occupying heap memory that is not a reachable object.
func (s Status) IsQuasi() bool {
	return s == Unreachable || s == Free || s == Dark
}

// legalNext is the complete forward-edge relation of the status state
// machine. Absent entries have no outgoing edges.
var legalNext = map[Status]map[Status]bool{
	Live:        {Unreachable: true},
	Unreachable: {Dead: true},
	Free:        {Dead: true},
	Dark:        {Dead: true},
}

// canTransition reports whether from -> to is a legal edge. A status
// never transitions to itself; callers treat that case as a no-op
// before consulting the table.
func canTransition(from, to Status) bool {
	return legalNext[from][to]
}
