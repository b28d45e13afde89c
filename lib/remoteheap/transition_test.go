// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"strings"
	"testing"

	"github.com/heapscope/heapscope/lib/addr"
)

func TestLegalEdgesExhaustive(t *testing.T) {
	all := []Status{Live, Unreachable, Free, Dark, Dead}
	legal := map[[2]Status]bool{
		{Live, Unreachable}: true,
		{Unreachable, Dead}: true,
		{Free, Dead}:        true,
		{Dark, Dead}:        true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Status{from, to}]
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status  Status
		isQuasi bool
	}{
		{Live, false},
		{Unreachable, true},
		{Free, true},
		{Dark, true},
		{Dead, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsQuasi(); got != tt.isQuasi {
			t.Errorf("%s.IsQuasi() = %v, want %v", tt.status, got, tt.isQuasi)
		}
	}
	if !Live.IsLive() || !Dead.IsDead() || !Free.IsFree() || !Dark.IsDark() || !Unreachable.IsUnreachable() {
		t.Error("a status predicate denies its own status")
	}
}

func TestTransitionWalksForward(t *testing.T) {
	ref := newReference(0x1000, Live)
	ref.transition("test", Unreachable)
	if got := ref.Status(); got != Unreachable {
		t.Fatalf("Status = %s, want UNREACHABLE", got)
	}
	ref.die("test")
	if got := ref.Status(); got != Dead {
		t.Fatalf("Status = %s, want DEAD", got)
	}
	// die is idempotent.
	ref.die("test")
	if got := ref.Status(); got != Dead {
		t.Fatalf("Status after second die = %s, want DEAD", got)
	}
}

func TestTransitionPanicsOnIllegalEdge(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
	}{
		{"live cannot die directly", Live, Dead},
		{"dead is terminal", Dead, Live},
		{"free cannot become live", Free, Live},
		{"unreachable cannot recover", Unreachable, Live},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := newReference(0x2000, tt.from)
			defer func() {
				r := recover()
				if r == nil {
					t.Fatalf("transition %s -> %s did not panic", tt.from, tt.to)
				}
				perr, ok := r.(*PreconditionError)
				if !ok {
					t.Fatalf("panic value is %T, want *PreconditionError", r)
				}
				if !strings.Contains(perr.Detail, "illegal status transition") {
					t.Fatalf("Detail = %q", perr.Detail)
				}
			}()
			ref.transition("test", tt.to)
		})
	}
}

// --- identity map arena ---

func TestRefMapLookupTouches(t *testing.T) {
	m := newRefMap("object")
	ref := newReference(0x1000, Live)
	m.insert(ref, 1)

	if got := m.lookup(0x1000, 5); got != ref {
		t.Fatalf("lookup returned %v, want the inserted reference", got)
	}

	// Touched at 5: horizon 3 at epoch 7 keeps it (7-5=2).
	if stale := m.sweepStale(7, 3); len(stale) != 0 {
		t.Fatalf("sweepStale evicted a recently touched entry: %v", stale)
	}
	// At epoch 9 it is stale (9-5=4).
	stale := m.sweepStale(9, 3)
	if len(stale) != 1 || stale[0] != ref {
		t.Fatalf("sweepStale = %v, want the idle reference", stale)
	}
	if m.size() != 0 {
		t.Fatalf("size = %d after eviction, want 0", m.size())
	}
}

func TestRefMapPeekDoesNotTouch(t *testing.T) {
	m := newRefMap("object")
	ref := newReference(0x1000, Live)
	m.insert(ref, 1)

	for epoch := uint64(2); epoch < 10; epoch++ {
		if m.peek(0x1000) != ref {
			t.Fatal("peek lost the entry")
		}
	}
	// Only the insert epoch counts: stale at 5 with horizon 3.
	if stale := m.sweepStale(5, 3); len(stale) != 1 {
		t.Fatalf("sweepStale = %v, want one idle reference", stale)
	}
}

func TestRefMapZeroHorizonNeverEvicts(t *testing.T) {
	m := newRefMap("object")
	m.insert(newReference(0x1000, Live), 1)
	if stale := m.sweepStale(1_000_000, 0); stale != nil {
		t.Fatalf("sweepStale with horizon 0 = %v, want nil", stale)
	}
	if m.size() != 1 {
		t.Fatal("entry disappeared with eviction disabled")
	}
}

func TestRefMapValuesSorted(t *testing.T) {
	m := newRefMap("object")
	for _, origin := range []addr.Address{0x3000, 0x1000, 0x2000} {
		m.insert(newReference(origin, Live), 1)
	}
	values := m.values()
	if len(values) != 3 {
		t.Fatalf("len(values) = %d, want 3", len(values))
	}
	for i, want := range []addr.Address{0x1000, 0x2000, 0x3000} {
		if values[i].Origin() != want {
			t.Fatalf("values[%d].Origin() = %s, want %s", i, values[i].Origin(), want)
		}
	}
}

func TestRefMapDoubleInsertPanics(t *testing.T) {
	m := newRefMap("object")
	m.insert(newReference(0x1000, Live), 1)
	defer func() {
		if recover() == nil {
			t.Fatal("double insert did not panic")
		}
	}()
	m.insert(newReference(0x1000, Live), 2)
}
