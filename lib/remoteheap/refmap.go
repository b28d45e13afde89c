// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"sort"

	"github.com/heapscope/heapscope/lib/addr"
)

// refEntry is one arena slot: the reference plus the epoch a client
// last asked for it, which drives eviction.
type refEntry struct {
	ref        *Reference
	lastAccess uint64
}

// refMap is one identity map: origin address to tracked reference.
// Not safe for concurrent use; the registry guards it with the
// inspection lock.
type refMap struct {
	name    string
	entries map[addr.Address]*refEntry
}

func newRefMap(name string) *refMap {
	return &refMap{
		name:    name,
		entries: make(map[addr.Address]*refEntry),
	}
}

// lookup returns the tracked reference at origin, recording the access
// at the given epoch. Returns nil if the origin is untracked.
func (m *refMap) lookup(origin addr.Address, epoch uint64) *Reference {
	entry, ok := m.entries[origin]
	if !ok {
		return nil
	}
	entry.lastAccess = epoch
	return entry.ref
}

// peek returns the tracked reference at origin without recording an
// access. Used by invariant checks and the reconciliation pass, which
// must not count as client interest.
func (m *refMap) peek(origin addr.Address) *Reference {
	entry, ok := m.entries[origin]
	if !ok {
		return nil
	}
	return entry.ref
}

// insert adds a reference at its origin, with the access clock
// starting at epoch. Inserting over an existing entry is a bug in the
// registry, not a client error.
func (m *refMap) insert(ref *Reference, epoch uint64) {
	origin := ref.Origin()
	if _, ok := m.entries[origin]; ok {
		panic(&PreconditionError{Op: "insert", Origin: origin,
			Detail: m.name + " map already tracks this origin"})
	}
	m.entries[origin] = &refEntry{ref: ref, lastAccess: epoch}
}

// remove forgets the entry at origin. Removing an absent origin is a
// no-op.
func (m *refMap) remove(origin addr.Address) {
	delete(m.entries, origin)
}

// size returns the number of tracked origins.
func (m *refMap) size() int {
	return len(m.entries)
}

// origins returns the tracked origins in ascending address order, as a
// snapshot safe to iterate while mutating the map.
func (m *refMap) origins() []addr.Address {
	out := make([]addr.Address, 0, len(m.entries))
	for origin := range m.entries {
		out = append(out, origin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// values returns the tracked references in ascending origin order, as
// a snapshot safe to iterate while mutating the map.
func (m *refMap) values() []*Reference {
	origins := m.origins()
	out := make([]*Reference, 0, len(origins))
	for _, origin := range origins {
		out = append(out, m.entries[origin].ref)
	}
	return out
}

// sweepStale removes and returns every entry whose last access is more
// than horizon epochs before now. A zero horizon disables eviction.
// Removed references keep their status; forgetting an identity is not
// a death.
func (m *refMap) sweepStale(now, horizon uint64) []*Reference {
	if horizon == 0 {
		return nil
	}
	var stale []*Reference
	for origin, entry := range m.entries {
		if now-entry.lastAccess > horizon {
			stale = append(stale, entry.ref)
			delete(m.entries, origin)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Origin() < stale[j].Origin() })
	return stale
}
