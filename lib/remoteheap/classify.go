// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/layout"
)

// occupant is everything observed about one origin at a halt: the raw
// header, the pattern it matches, and the mark color when the phase
// makes the mark bitmap meaningful.
type occupant struct {
	header   layout.Header
	kind     layout.Kind
	color    gcphase.MarkColor
	hasColor bool
}

// classifier decides the status of an occupant. The second result
// flags a gray-mark anomaly for the caller to log; classification
// itself resolves it conservatively to Live.
type classifier func(occ occupant) (Status, bool)

// classifiers selects the classification rule by phase.
var classifiers = map[gcphase.Phase]classifier{
	gcphase.Mutating:   classifyByPattern,
	gcphase.Analyzing:  classifyByPattern,
	gcphase.Reclaiming: classifyByMark,
}

// classifyByPattern applies outside RECLAIMING, when the mark bitmap
// says nothing about liveness: whatever coherently occupies the
// address is taken at face value.
func classifyByPattern(occ occupant) (Status, bool) {
	switch occ.kind {
	case layout.KindFree:
		return Free, false
	case layout.KindDark:
		return Dark, false
	case layout.KindObject:
		return Live, false
	default:
		return Dead, false
	}
}

// classifyByMark applies during RECLAIMING, when the completed mark
// bitmap is the authority on object liveness: black means reachable,
// white means condemned. Gray should not survive to a halt; it is
// flagged and resolved to Live so a bitmap glitch can never kill a
// reference.
func classifyByMark(occ occupant) (Status, bool) {
	switch occ.kind {
	case layout.KindFree:
		return Free, false
	case layout.KindDark:
		return Dark, false
	case layout.KindObject:
		if !occ.hasColor {
			return Dead, false
		}
		switch occ.color {
		case gcphase.Black:
			return Live, false
		case gcphase.Gray:
			return Live, true
		default:
			return Unreachable, false
		}
	default:
		return Dead, false
	}
}

// readOccupant observes the origin for classification: header words,
// matched pattern, and the mark color when wantColor is set. Origins
// above the allocation watermark are not readable as occupants and
// observe as KindNone without touching target memory.
func (g *Registry) readOccupant(region addr.Region, origin addr.Address, wantColor bool) (occupant, error) {
	if !region.ContainsAllocated(origin) {
		return occupant{kind: layout.KindNone}, nil
	}
	header, err := g.profile.ReadHeader(g.mem, origin)
	if err != nil {
		return occupant{}, fmt.Errorf("observing occupant at %s: %w", origin, err)
	}
	occ := occupant{
		header: header,
		kind:   g.profile.Classify(header, region.AllocatedEnd().Diff(origin)),
	}
	if wantColor {
		color, err := g.oracle.MarkColorAt(origin)
		if err != nil {
			return occupant{}, fmt.Errorf("observing mark color at %s: %w", origin, err)
		}
		occ.color = color
		occ.hasColor = true
	}
	return occ, nil
}

// classifyAt probes an address directly against current target memory
// and the current phase. Pure: no map is consulted or changed.
func (g *Registry) classifyAt(a addr.Address) (Status, error) {
	phase := g.oracle.Phase()
	occ, err := g.readOccupant(g.region, a, phase == gcphase.Reclaiming)
	if err != nil {
		return Dead, err
	}
	status, gray := classifiers[phase](occ)
	if gray {
		g.logger.Warn("gray mark observed at a halt; treating the object as live",
			"origin", a.String(),
			"phase", phase.String(),
		)
	}
	if status == Dead && g.ambiguousPattern(occ) {
		g.logger.Warn("unrecognized occupant pattern; classifying as DEAD",
			"origin", a.String(),
			"kind_word", fmt.Sprintf("%#x", occ.header.Kind),
			"size_word", occ.header.Size,
		)
	}
	return status, nil
}

// ambiguousPattern reports whether an occupant classified as nothing
// recognizable held bytes other than cleared or zapped dead space.
// Those deserve a diagnostic: the target wrote something there that
// the layout profile cannot name.
func (g *Registry) ambiguousPattern(occ occupant) bool {
	return occ.kind == layout.KindNone &&
		occ.header.Kind != 0 &&
		!g.profile.IsZapped(occ.header)
}
