// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
)

// Stats is a point-in-time snapshot of the registry: current map
// contents by status, the last observed collector state, and the
// cumulative transition tallies since attach.
type Stats struct {
	Kind        SchemeKind
	Region      addr.Region
	RegionFound bool

	// Epoch is the last processed halt; Passes counts reconciliation
	// passes actually applied (region discovery no-ops excluded).
	Epoch  uint64
	Passes uint64

	// Last observed oracle state.
	Phase           gcphase.Phase
	CyclesStarted   uint64
	CyclesCompleted uint64

	// Current tracked references by status.
	Live        int
	Unreachable int
	FreeChunks  int
	DarkMatter  int

	ObjectMapSize    int
	FreeSpaceMapSize int

	// Cumulative transition tallies.
	CreatedLive        uint64
	CreatedFree        uint64
	CreatedDark        uint64
	CreatedUnreachable uint64
	BecameUnreachable  uint64
	DiedUnreachable    uint64
	DiedFree           uint64
	DiedDark           uint64
	Evicted            uint64
	GrayMarks          uint64
}

// Stats snapshots the registry.
//
// Panics with a PreconditionError if the inspection lock is not held.
func (g *Registry) Stats() Stats {
	g.mustHoldLock("Stats")

	s := Stats{
		Kind:        g.kind,
		Region:      g.region,
		RegionFound: g.regionFound,

		Epoch:  g.lastUpdateEpoch,
		Passes: g.passes,

		Phase:           g.obsPhase,
		CyclesStarted:   g.obsStarted,
		CyclesCompleted: g.obsCompleted,

		ObjectMapSize:    g.objects.size(),
		FreeSpaceMapSize: g.freeSpace.size(),

		CreatedLive:        g.totals.createdLive,
		CreatedFree:        g.totals.createdFree,
		CreatedDark:        g.totals.createdDark,
		CreatedUnreachable: g.totals.createdUnreachable,
		BecameUnreachable:  g.totals.becameUnreachable,
		DiedUnreachable:    g.totals.diedUnreachable,
		DiedFree:           g.totals.diedFree,
		DiedDark:           g.totals.diedDark,
		Evicted:            g.totals.evicted,
		GrayMarks:          g.totals.graysObserved,
	}

	for _, ref := range g.objects.values() {
		switch ref.Status() {
		case Live:
			s.Live++
		case Unreachable:
			s.Unreachable++
		}
	}
	for _, ref := range g.freeSpace.values() {
		switch ref.Status() {
		case Free:
			s.FreeChunks++
		case Dark:
			s.DarkMatter++
		}
	}
	return s
}

// FormatStats renders a stats snapshot as the session report printed
// by the CLI. verbose adds the cumulative transition tallies.
func FormatStats(w io.Writer, s Stats, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	region := "not discovered yet"
	if s.RegionFound {
		region = s.Region.String()
	}
	fmt.Fprintf(tw, "heap scheme:\t%s\n", s.Kind)
	fmt.Fprintf(tw, "region:\t%s\n", region)
	fmt.Fprintf(tw, "phase:\t%s\n", s.Phase)
	fmt.Fprintf(tw, "cycles:\t%d started, %d completed\n", s.CyclesStarted, s.CyclesCompleted)
	fmt.Fprintf(tw, "epoch:\t%d (%d passes applied)\n", s.Epoch, s.Passes)
	fmt.Fprintf(tw, "object map:\t%d entries (%d LIVE, %d UNREACHABLE)\n",
		s.ObjectMapSize, s.Live, s.Unreachable)
	fmt.Fprintf(tw, "free-space map:\t%d entries (%d FREE, %d DARK)\n",
		s.FreeSpaceMapSize, s.FreeChunks, s.DarkMatter)

	if verbose {
		fmt.Fprintf(tw, "created:\t%d LIVE, %d FREE, %d DARK, %d UNREACHABLE\n",
			s.CreatedLive, s.CreatedFree, s.CreatedDark, s.CreatedUnreachable)
		fmt.Fprintf(tw, "became unreachable:\t%d\n", s.BecameUnreachable)
		fmt.Fprintf(tw, "died:\t%d UNREACHABLE, %d FREE, %d DARK\n",
			s.DiedUnreachable, s.DiedFree, s.DiedDark)
		fmt.Fprintf(tw, "evicted:\t%d\n", s.Evicted)
		fmt.Fprintf(tw, "gray anomalies:\t%d\n", s.GrayMarks)
	}
	return tw.Flush()
}
