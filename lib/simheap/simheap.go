// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package simheap simulates the heap of a target running a mark-sweep
// collector: a buffer of addressable memory, a region descriptor, a
// phase machine with cycle counters, and a mark bitmap.
//
// A Heap stands in for a live process on the far side of the memory
// channel. It implements memio.Reader, gcphase.Oracle, and
// remoteheap.RegionSource, and exposes scripting operations (place an
// object, mark it, zap it, advance the phase) so tests and the demo
// can play out exact collection histories. It performs no collection
// itself; the script is the collector.
//
// A Heap is not safe for concurrent use.
package simheap

import (
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/layout"
	"github.com/heapscope/heapscope/lib/memio"
	"github.com/heapscope/heapscope/lib/remoteheap"
)

// ObjectKind is the kind word PlaceObject writes: an arbitrary value
// that matches no marker tag, standing in for a type descriptor.
const ObjectKind uint64 = 0x5ca1ab1e

// RegionName is the name of the simulated heap region.
const RegionName = "object space"

// Heap is one simulated target heap.
type Heap struct {
	mem     *memio.BufferMemory
	profile *layout.Profile
	region  addr.Region

	published bool
	killed    bool

	phase     gcphase.Phase
	started   uint64
	completed uint64
	marks     map[addr.Address]gcphase.MarkColor

	// failAfter counts down successful target reads; at zero every
	// further read fails. Negative disables.
	failAfter int
}

var (
	_ memio.Reader            = (*Heap)(nil)
	_ gcphase.Oracle          = (*Heap)(nil)
	_ remoteheap.RegionSource = (*Heap)(nil)
)

// New builds a heap whose region starts at start with the given
// committed size. The allocation watermark starts at zero; the region
// descriptor is published immediately.
func New(start addr.Address, committed uint64, profile *layout.Profile) *Heap {
	if profile == nil {
		profile = layout.Default()
	}
	return &Heap{
		mem:     memio.NewBuffer(start, committed),
		profile: profile,
		region: addr.Region{
			Name:      RegionName,
			Start:     start,
			Committed: committed,
		},
		published: true,
		phase:     gcphase.Mutating,
		marks:     make(map[addr.Address]gcphase.MarkColor),
		failAfter: -1,
	}
}

// Memory returns the backing buffer for direct byte scripting.
func (h *Heap) Memory() *memio.BufferMemory {
	return h.mem
}

// Profile returns the layout profile the heap writes headers with.
func (h *Heap) Profile() *layout.Profile {
	return h.profile
}

// Region returns the current region descriptor.
func (h *Heap) Region() addr.Region {
	return h.region
}

// --- region descriptor ---

// Publish makes the region descriptor visible to inspectors.
func (h *Heap) Publish() { h.published = true }

// Unpublish simulates a target that has not initialized its heap yet.
func (h *Heap) Unpublish() { h.published = false }

// SetAllocated moves the allocation watermark.
func (h *Heap) SetAllocated(n uint64) {
	if n > h.region.Committed {
		panic(fmt.Sprintf("simheap: watermark %d past committed %d", n, h.region.Committed))
	}
	h.region.Allocated = n
}

// HeapRegion implements remoteheap.RegionSource.
func (h *Heap) HeapRegion() (addr.Region, error) {
	if h.killed {
		return addr.Region{}, memio.ErrTargetGone
	}
	if !h.published {
		return addr.Region{}, remoteheap.ErrRegionNotReady
	}
	return h.region, nil
}

// --- failure injection ---

// Kill makes every subsequent target operation fail with
// memio.ErrTargetGone, as if the process exited.
func (h *Heap) Kill() { h.killed = true }

// FailReadsAfter arranges for reads to start failing with
// memio.ErrUnreadable once n more have succeeded. Negative n disables
// injection. Mark color reads count as reads.
func (h *Heap) FailReadsAfter(n int) { h.failAfter = n }

func (h *Heap) readCheck() error {
	if h.killed {
		return memio.ErrTargetGone
	}
	if h.failAfter == 0 {
		return memio.ErrUnreadable
	}
	if h.failAfter > 0 {
		h.failAfter--
	}
	return nil
}

// --- memio.Reader ---

// ReadByte implements memio.Reader.
func (h *Heap) ReadByte(a addr.Address) (byte, error) {
	if err := h.readCheck(); err != nil {
		return 0, err
	}
	return h.mem.ReadByte(a)
}

// ReadWord implements memio.Reader.
func (h *Heap) ReadWord(a addr.Address) (uint64, error) {
	if err := h.readCheck(); err != nil {
		return 0, err
	}
	return h.mem.ReadWord(a)
}

// ReadBytes implements memio.Reader.
func (h *Heap) ReadBytes(a addr.Address, n int) ([]byte, error) {
	if err := h.readCheck(); err != nil {
		return nil, err
	}
	return h.mem.ReadBytes(a, n)
}

// --- gcphase.Oracle ---

// Phase implements gcphase.Oracle.
func (h *Heap) Phase() gcphase.Phase { return h.phase }

// StartedCount implements gcphase.Oracle.
func (h *Heap) StartedCount() uint64 { return h.started }

// CompletedCount implements gcphase.Oracle.
func (h *Heap) CompletedCount() uint64 { return h.completed }

// MarkColorAt implements gcphase.Oracle. Unmarked origins are white.
func (h *Heap) MarkColorAt(origin addr.Address) (gcphase.MarkColor, error) {
	if err := h.readCheck(); err != nil {
		return gcphase.White, err
	}
	return h.marks[origin], nil
}

// --- collection script ---

// BeginAnalyzing enters ANALYZING and starts a cycle: the started
// counter advances and the mark bitmap resets to all white.
func (h *Heap) BeginAnalyzing() {
	h.phase = gcphase.Analyzing
	h.started++
	h.ClearMarks()
}

// BeginReclaiming enters RECLAIMING. The script must have finished
// marking: surviving objects black, condemned ones white.
func (h *Heap) BeginReclaiming() {
	h.phase = gcphase.Reclaiming
}

// CompleteCycle returns to MUTATING and advances the completed
// counter.
func (h *Heap) CompleteCycle() {
	h.phase = gcphase.Mutating
	h.completed++
}

// SetMark colors one origin in the mark bitmap.
func (h *Heap) SetMark(origin addr.Address, color gcphase.MarkColor) {
	h.marks[origin] = color
}

// ClearMarks resets the bitmap to all white.
func (h *Heap) ClearMarks() {
	h.marks = make(map[addr.Address]gcphase.MarkColor)
}

// --- memory script ---

// PlaceObject writes an ordinary object header at origin.
func (h *Heap) PlaceObject(origin addr.Address, size uint64) {
	h.placeHeader(origin, ObjectKind, size)
}

// PlaceFreeChunk writes a free-chunk header at origin.
func (h *Heap) PlaceFreeChunk(origin addr.Address, size uint64) {
	h.placeHeader(origin, uint64(h.profile.FreeChunkTag), size)
}

// PlaceDarkMatter writes a dark-matter header at origin.
func (h *Heap) PlaceDarkMatter(origin addr.Address, size uint64) {
	h.placeHeader(origin, uint64(h.profile.DarkMatterTag), size)
}

func (h *Heap) placeHeader(origin addr.Address, kind, size uint64) {
	if err := h.mem.WriteWord(origin, kind); err != nil {
		panic(fmt.Sprintf("simheap: placing header at %s: %v", origin, err))
	}
	if err := h.mem.WriteWord(origin.Plus(h.profile.WordSize), size); err != nil {
		panic(fmt.Sprintf("simheap: placing header at %s: %v", origin, err))
	}
}

// Zap overwrites size bytes at origin with the zap pattern, the way a
// debug-build sweeper retires reclaimed space.
func (h *Heap) Zap(origin addr.Address, size uint64) {
	if err := h.mem.FillWords(origin, int(size/h.profile.WordSize), uint64(h.profile.ZapWord)); err != nil {
		panic(fmt.Sprintf("simheap: zapping %s: %v", origin, err))
	}
}

// Clear zeroes size bytes at origin.
func (h *Heap) Clear(origin addr.Address, size uint64) {
	if err := h.mem.Fill(origin, int(size), 0); err != nil {
		panic(fmt.Sprintf("simheap: clearing %s: %v", origin, err))
	}
}

// Alloc places an object of the given size at the allocation
// watermark and advances it, like the target's bump allocator. The
// size is rounded up to alignment and the minimum object size.
func (h *Heap) Alloc(size uint64) (addr.Address, error) {
	if size < h.profile.MinObjectSize {
		size = h.profile.MinObjectSize
	}
	if rem := size % h.profile.WordSize; rem != 0 {
		size += h.profile.WordSize - rem
	}
	if h.region.Allocated+size > h.region.Committed {
		return 0, fmt.Errorf("simheap: out of committed space (allocated %d, committed %d, need %d)",
			h.region.Allocated, h.region.Committed, size)
	}
	origin := h.region.Start.Plus(h.region.Allocated)
	h.PlaceObject(origin, size)
	h.region.Allocated += size
	return origin, nil
}
