// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"errors"
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/layout"
)

// observation is everything a reconciliation pass reads from the
// frozen target before it mutates anything: the refreshed region
// descriptor, the oracle state, and one occupant record per tracked
// origin. Once the observation is complete the pass cannot fail.
type observation struct {
	region    addr.Region
	phase     gcphase.Phase
	started   uint64
	completed uint64
	occupants map[addr.Address]occupant
}

// tally counts reference transitions. Per-pass tallies are folded
// into the registry totals and logged.
type tally struct {
	createdLive        uint64
	createdFree        uint64
	createdDark        uint64
	createdUnreachable uint64
	becameUnreachable  uint64
	diedUnreachable    uint64
	diedFree           uint64
	diedDark           uint64
	evicted            uint64
	graysObserved      uint64
}

func (t *tally) add(other tally) {
	t.createdLive += other.createdLive
	t.createdFree += other.createdFree
	t.createdDark += other.createdDark
	t.createdUnreachable += other.createdUnreachable
	t.becameUnreachable += other.becameUnreachable
	t.diedUnreachable += other.diedUnreachable
	t.diedFree += other.diedFree
	t.diedDark += other.diedDark
	t.evicted += other.evicted
	t.graysObserved += other.graysObserved
}

// UpdateMemoryStatus reconciles every tracked reference with the
// target's state at the halt identified by epoch. It is the only
// mutating entry point and the registry's session.Refresher
// implementation.
//
// Region discovery is attempted at every halt until it succeeds; a
// target that has not initialized its heap yet makes the call a
// no-op. Once discovered, a pass runs only when epoch is newer than
// the last processed one.
//
// The pass observes first and applies second: every target read
// happens before any map mutation, so a read failure (target exited,
// memory unreadable) returns an error with both maps exactly as they
// were.
//
// Panics with a PreconditionError if the inspection lock is not held.
func (g *Registry) UpdateMemoryStatus(epoch uint64) error {
	g.mustHoldLock("UpdateMemoryStatus")

	if !g.regionFound {
		if err := g.discoverRegion(epoch); err != nil {
			return err
		}
		if !g.regionFound {
			return nil
		}
	}

	if epoch <= g.lastUpdateEpoch {
		return nil
	}

	obs, err := g.observe()
	if err != nil {
		return fmt.Errorf("reconciliation at epoch %d: %w", epoch, err)
	}
	g.apply(epoch, obs)
	g.lastUpdateEpoch = epoch
	return nil
}

// discoverRegion tries to resolve the managed heap region. Not ready
// is a quiet no-op; the next halt tries again.
func (g *Registry) discoverRegion(epoch uint64) error {
	region, err := g.regions.HeapRegion()
	if errors.Is(err, ErrRegionNotReady) {
		g.logger.Debug("heap region not published yet", "epoch", epoch)
		return nil
	}
	if err != nil {
		return fmt.Errorf("discovering heap region: %w", err)
	}
	if err := region.Validate(); err != nil {
		return fmt.Errorf("discovered heap region invalid: %w", err)
	}
	g.region = region
	g.regionFound = true
	g.logger.Info("heap region discovered",
		"region", region.String(),
		"epoch", epoch,
	)
	return nil
}

// observe performs every target read the pass needs. The region
// descriptor is re-read for fresh bounds; its identity (the start
// address) is fixed at discovery, and a descriptor claiming the
// region moved is distrusted wholesale.
func (g *Registry) observe() (*observation, error) {
	region, err := g.regions.HeapRegion()
	if err != nil {
		return nil, fmt.Errorf("refreshing heap region: %w", err)
	}
	if region.Start != g.region.Start {
		g.logger.Warn("heap region descriptor moved; keeping the discovered region",
			"discovered", g.region.String(),
			"reported", region.String(),
		)
		region = g.region
	} else if err := region.Validate(); err != nil {
		g.logger.Warn("refreshed heap region descriptor invalid; keeping previous bounds",
			"error", err,
		)
		region = g.region
	}

	obs := &observation{
		region:    region,
		phase:     g.oracle.Phase(),
		started:   g.oracle.StartedCount(),
		completed: g.oracle.CompletedCount(),
		occupants: make(map[addr.Address]occupant, g.objects.size()+g.freeSpace.size()),
	}

	// Object-map origins need mark colors during RECLAIMING: the
	// liveness determination and the overwritten-unreachable check
	// both classify through the bitmap.
	wantColor := obs.phase == gcphase.Reclaiming
	for _, origin := range g.objects.origins() {
		occ, err := g.readOccupant(obs.region, origin, wantColor)
		if err != nil {
			return nil, err
		}
		obs.occupants[origin] = occ
	}
	// Free-space origins are pattern-checked only.
	for _, origin := range g.freeSpace.origins() {
		occ, err := g.readOccupant(obs.region, origin, false)
		if err != nil {
			return nil, err
		}
		obs.occupants[origin] = occ
	}
	return obs, nil
}

// apply runs the sweeps in their fixed order against a completed
// observation. Order matters: each step assumes the earlier ones have
// already purged stale facts. apply cannot fail.
func (g *Registry) apply(epoch uint64, obs *observation) {
	var t tally

	g.region = obs.region
	g.obsPhase = obs.phase
	g.obsStarted = obs.started
	g.obsCompleted = obs.completed

	// Completed-cycle sweep: a finished collection has reclaimed
	// everything it condemned, so unreachable identities from the
	// previous cycle must not survive into this one's bookkeeping.
	if g.lastCompleted < obs.completed {
		for _, ref := range g.objects.values() {
			if ref.Status() != Unreachable {
				continue
			}
			ref.die("completed-cycle sweep")
			g.objects.remove(ref.Origin())
			t.diedUnreachable++
			g.logger.Debug("unreachable object reclaimed by completed cycle",
				"origin", ref.Origin().String(),
			)
		}
		g.lastCompleted = obs.completed
	}

	if obs.phase == gcphase.Reclaiming {
		// Liveness determination: exactly once per cycle, at the
		// first halt after marking finished. The bitmap is complete
		// here and nothing has been overwritten yet, so an unmarked
		// object is known garbage rather than guessed garbage.
		if g.lastLiveness < obs.started {
			for _, ref := range g.objects.values() {
				if ref.Status() != Live {
					// The completed-cycle sweep purged the previous
					// cycle's unreachables before this point.
					g.logger.Warn("non-live reference in the object map at liveness determination",
						"ref", ref.String(),
					)
					continue
				}
				occ := obs.occupants[ref.Origin()]
				switch {
				case !occ.hasColor:
					// Origin no longer below the watermark; nothing
					// can vouch for it.
					ref.transition("liveness determination", Unreachable)
					t.becameUnreachable++
				case occ.color == gcphase.Black:
					// Reachable, stays live.
				case occ.color == gcphase.Gray:
					g.logger.Warn("gray mark at liveness determination; treating the object as live",
						"origin", ref.Origin().String(),
					)
					t.graysObserved++
				default:
					ref.transition("liveness determination", Unreachable)
					t.becameUnreachable++
				}
			}
			g.lastLiveness = obs.started
		}

		// Overwritten-unreachable check, every RECLAIMING halt: the
		// sweeper reclaims condemned objects incrementally, and a
		// reclaimed one stops looking like an unreachable object.
		for _, ref := range g.objects.values() {
			if ref.Status() != Unreachable {
				continue
			}
			status, _ := classifyByMark(obs.occupants[ref.Origin()])
			if status == Dead || status == Free || status == Dark {
				ref.die("overwritten-unreachable check")
				g.objects.remove(ref.Origin())
				t.diedUnreachable++
				g.logger.Debug("unreachable object overwritten by sweeper",
					"origin", ref.Origin().String(),
					"now", status.String(),
				)
			}
		}
	}

	// Free-space sweep, every halt, last: chunks are consumed by the
	// allocator and coalesced by the sweeper in any phase. Nothing
	// upstream depends on it.
	for _, ref := range g.freeSpace.values() {
		occ := obs.occupants[ref.Origin()]
		switch ref.Status() {
		case Free:
			if occ.kind != layout.KindFree {
				ref.die("free-space sweep")
				g.freeSpace.remove(ref.Origin())
				t.diedFree++
			}
		case Dark:
			if occ.kind != layout.KindDark {
				ref.die("free-space sweep")
				g.freeSpace.remove(ref.Origin())
				t.diedDark++
			}
		}
	}

	// Eviction sweep: forget identities no client has asked about
	// within the horizon. Not a death; a later probe of the same
	// address manufactures a fresh reference.
	if g.horizon > 0 {
		for _, ref := range g.objects.sweepStale(epoch, g.horizon) {
			t.evicted++
			g.logger.Debug("evicted idle reference", "ref", ref.String())
		}
		for _, ref := range g.freeSpace.sweepStale(epoch, g.horizon) {
			t.evicted++
			g.logger.Debug("evicted idle reference", "ref", ref.String())
		}
	}

	g.passes++
	g.totals.add(t)
	g.logger.Debug("reconciliation pass complete",
		"epoch", epoch,
		"phase", obs.phase.String(),
		"started", obs.started,
		"completed", obs.completed,
		"objects", g.objects.size(),
		"free_space", g.freeSpace.size(),
		"became_unreachable", t.becameUnreachable,
		"died", t.diedUnreachable+t.diedFree+t.diedDark,
		"evicted", t.evicted,
	)
}
