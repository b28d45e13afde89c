// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package target attaches heapscope to a cooperating live process.
//
// A cooperating target publishes an eleven-word descriptor at a known
// address: collector phase, cycle counters, heap region geometry, and
// the location of its mark bitmap. Target reads that descriptor and
// stands in for the collector on this side of the memory channel: it
// implements gcphase.Oracle and remoteheap.RegionSource, answering
// phase and mark-color queries from the state cached at the last
// session refresh.
//
// The descriptor and bitmap are only coherent while the target is
// halted; New and UpdateMemoryStatus must be called with the target
// stopped.
package target

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/memio"
	"github.com/heapscope/heapscope/lib/remoteheap"
	"github.com/heapscope/heapscope/lib/session"
)

// maxBitmapBytes caps how much mark bitmap a refresh will cache. A
// descriptor demanding more is corrupt, not merely large.
const maxBitmapBytes = 2 << 30

// Config carries the attach dependencies.
type Config struct {
	// Memory reads the target's address space. Required.
	Memory memio.Reader

	// Descriptor is the address of the target's published heap
	// descriptor. Required.
	Descriptor addr.Address

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Target is one attached cooperating process. It is mutated only by
// UpdateMemoryStatus, which the session calls while holding the
// inspection lock; register it before any refresher that consumes its
// answers.
type Target struct {
	mem      memio.Reader
	descAddr addr.Address
	logger   *slog.Logger

	lastEpoch uint64
	desc      Descriptor

	// bitmap caches the mark bitmap bytes covering the committed
	// region, valid only when the cached phase is outside MUTATING.
	bitmap []byte
}

var (
	_ gcphase.Oracle          = (*Target)(nil)
	_ remoteheap.RegionSource = (*Target)(nil)
	_ session.Refresher       = (*Target)(nil)
)

// New reads and validates the target's published descriptor and
// returns an attached Target. The caller must hold the target halted
// for the duration. Returns ErrNoDescriptor (wrapped) if the target
// has not published yet; attach loops retry on it.
func New(cfg Config) (*Target, error) {
	var errs []error
	if cfg.Memory == nil {
		errs = append(errs, errors.New("memory reader is required"))
	}
	if cfg.Descriptor.IsZero() {
		errs = append(errs, errors.New("descriptor address is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("target config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Target{
		mem:      cfg.Memory,
		descAddr: cfg.Descriptor,
		logger:   logger,
	}
	if err := t.refresh(); err != nil {
		return nil, err
	}
	return t, nil
}

// Descriptor returns the descriptor cached at the last refresh.
func (t *Target) Descriptor() Descriptor {
	return t.desc
}

// UpdateMemoryStatus implements session.Refresher: re-read the
// descriptor and recache the mark bitmap. A no-op if epoch is not
// newer than the last processed epoch.
func (t *Target) UpdateMemoryStatus(epoch uint64) error {
	if epoch <= t.lastEpoch {
		return nil
	}
	if err := t.refresh(); err != nil {
		return err
	}
	t.lastEpoch = epoch
	return nil
}

// refresh reads the descriptor and, outside MUTATING, the stretch of
// mark bitmap covering the committed region. A failed read leaves the
// previous view in place.
func (t *Target) refresh() error {
	d, err := t.readDescriptor()
	if err != nil {
		return err
	}

	// Counters run backwards only when the descriptor now belongs to a
	// different incarnation of the target. Warn, but adopt the new
	// view; stale state helps nobody.
	if d.CyclesStarted < t.desc.CyclesStarted || d.CyclesCompleted < t.desc.CyclesCompleted {
		t.logger.Warn("descriptor cycle counters regressed; adopting the new view",
			"started", d.CyclesStarted,
			"previous_started", t.desc.CyclesStarted,
			"completed", d.CyclesCompleted,
			"previous_completed", t.desc.CyclesCompleted,
		)
	}

	var bitmap []byte
	if d.Phase != gcphase.Mutating && !d.BitmapBase.IsZero() && d.Region.Committed != 0 {
		entries := (d.Region.Committed + d.BitmapGranule - 1) / d.BitmapGranule
		needed := (entries + 3) / 4
		if needed > maxBitmapBytes {
			return fmt.Errorf("descriptor demands %d bytes of mark bitmap; treating as corrupt", needed)
		}
		if needed > d.BitmapSize {
			return fmt.Errorf("mark bitmap is %d bytes but the committed region needs %d", d.BitmapSize, needed)
		}
		bitmap, err = t.mem.ReadBytes(d.BitmapBase, int(needed))
		if err != nil {
			return fmt.Errorf("reading mark bitmap at %s: %w", d.BitmapBase, err)
		}
	}

	t.desc = d
	t.bitmap = bitmap
	return nil
}

// readDescriptor reads and decodes the published descriptor.
func (t *Target) readDescriptor() (Descriptor, error) {
	raw, err := t.mem.ReadBytes(t.descAddr, DescriptorSize)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading descriptor at %s: %w", t.descAddr, err)
	}
	d, err := DecodeDescriptor(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("descriptor at %s: %w", t.descAddr, err)
	}
	return d, nil
}

// --- gcphase.Oracle ---

// Phase implements gcphase.Oracle from the cached descriptor.
func (t *Target) Phase() gcphase.Phase { return t.desc.Phase }

// StartedCount implements gcphase.Oracle from the cached descriptor.
func (t *Target) StartedCount() uint64 { return t.desc.CyclesStarted }

// CompletedCount implements gcphase.Oracle from the cached descriptor.
func (t *Target) CompletedCount() uint64 { return t.desc.CyclesCompleted }

// MarkColorAt implements gcphase.Oracle from the bitmap cached at the
// last refresh. Colors are undefined during MUTATING, so asking then
// is an error rather than a guess.
func (t *Target) MarkColorAt(origin addr.Address) (gcphase.MarkColor, error) {
	if t.desc.Phase == gcphase.Mutating {
		return gcphase.White, fmt.Errorf("mark colors are undefined during %s", gcphase.Mutating)
	}
	if t.bitmap == nil {
		return gcphase.White, errors.New("target publishes no mark bitmap")
	}
	if !t.desc.Region.Contains(origin) {
		return gcphase.White, fmt.Errorf("origin %s is outside the mark bitmap's region %s", origin, t.desc.Region)
	}
	entry := origin.Diff(t.desc.Region.Start) / t.desc.BitmapGranule
	value := t.bitmap[entry/4] >> ((entry % 4) * 2) & 3
	if value > uint8(gcphase.Black) {
		return gcphase.White, fmt.Errorf("mark bitmap entry for %s holds invalid value %d", origin, value)
	}
	return gcphase.MarkColor(value), nil
}

// --- remoteheap.RegionSource ---

// HeapRegion implements remoteheap.RegionSource. Per that contract it
// re-reads the descriptor on every call rather than answering from the
// cache; the registry decides what of the result to trust.
func (t *Target) HeapRegion() (addr.Region, error) {
	d, err := t.readDescriptor()
	if err != nil {
		if errors.Is(err, ErrNoDescriptor) {
			return addr.Region{}, remoteheap.ErrRegionNotReady
		}
		return addr.Region{}, err
	}
	if d.Region.Committed == 0 {
		return addr.Region{}, remoteheap.ErrRegionNotReady
	}
	return d.Region, nil
}
