// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
)

// DescriptorMagic is the first word of a published descriptor:
// "HEAPSCOP" read as a little-endian word. A zero word where the magic
// should be means the target has not published yet; any other value is
// corruption.
const DescriptorMagic uint64 = 0x504f435350414548

// DescriptorVersion is the descriptor layout this build understands.
const DescriptorVersion uint64 = 1

// DescriptorWords is the descriptor's size in target words. The layout
// is eleven little-endian words, in order: magic, version, phase,
// cycles started, cycles completed, region start, region committed
// size, allocation watermark, mark bitmap base, mark bitmap size, and
// mark bitmap granule (bytes of heap covered per bitmap entry).
const DescriptorWords = 11

// DescriptorSize is the descriptor's size in bytes.
const DescriptorSize = DescriptorWords * 8

// RegionName names the published heap region in logs and statistics.
// The descriptor itself carries no name.
const RegionName = "heap"

// ErrNoDescriptor is returned when the descriptor address holds a zero
// magic word: the target exists but has not initialized its heap far
// enough to publish. Attach loops retry on it.
var ErrNoDescriptor = errors.New("target has not published a heap descriptor")

// Descriptor is the decoded form of a target's published heap
// descriptor.
type Descriptor struct {
	// Version is the descriptor layout version.
	Version uint64

	// Phase is the collector phase at the time the target last wrote
	// the descriptor.
	Phase gcphase.Phase

	// CyclesStarted and CyclesCompleted are the collector's monotonic
	// cycle counters.
	CyclesStarted   uint64
	CyclesCompleted uint64

	// Region is the managed heap region. A zero committed size means
	// the heap is not ready yet.
	Region addr.Region

	// BitmapBase is the address of the mark bitmap, or zero if the
	// target publishes none. The bitmap packs one 2-bit entry per
	// granule of heap, four entries per byte, low bits first; entry
	// values are the gcphase.MarkColor values.
	BitmapBase addr.Address

	// BitmapSize is the bitmap's size in bytes.
	BitmapSize uint64

	// BitmapGranule is the number of heap bytes each bitmap entry
	// covers.
	BitmapGranule uint64
}

// DecodeDescriptor parses a raw descriptor read from target memory.
// A zero magic word yields ErrNoDescriptor; everything else that fails
// to parse is corruption and reported with the offending value.
func DecodeDescriptor(raw []byte) (Descriptor, error) {
	if len(raw) != DescriptorSize {
		return Descriptor{}, fmt.Errorf("descriptor is %d bytes, want %d", len(raw), DescriptorSize)
	}
	words := make([]uint64, DescriptorWords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}

	magic := words[0]
	if magic == 0 {
		return Descriptor{}, ErrNoDescriptor
	}
	if magic != DescriptorMagic {
		return Descriptor{}, fmt.Errorf("descriptor magic is %#x, want %#x", magic, DescriptorMagic)
	}
	if words[1] != DescriptorVersion {
		return Descriptor{}, fmt.Errorf("descriptor version %d is not supported (want %d)", words[1], DescriptorVersion)
	}
	if words[2] > uint64(gcphase.Reclaiming) {
		return Descriptor{}, fmt.Errorf("descriptor phase word %d is out of range", words[2])
	}

	d := Descriptor{
		Version:         words[1],
		Phase:           gcphase.Phase(words[2]),
		CyclesStarted:   words[3],
		CyclesCompleted: words[4],
		Region: addr.Region{
			Name:      RegionName,
			Start:     addr.Address(words[5]),
			Committed: words[6],
			Allocated: words[7],
		},
		BitmapBase:    addr.Address(words[8]),
		BitmapSize:    words[9],
		BitmapGranule: words[10],
	}

	if d.CyclesCompleted > d.CyclesStarted {
		return Descriptor{}, fmt.Errorf("descriptor cycle counters are inverted (%d completed, %d started)",
			d.CyclesCompleted, d.CyclesStarted)
	}
	// A zero committed size is a heap that is not ready, not an error;
	// everything else about the region must already cohere.
	if d.Region.Committed != 0 {
		if err := d.Region.Validate(); err != nil {
			return Descriptor{}, fmt.Errorf("descriptor region: %w", err)
		}
	} else if d.Region.Allocated != 0 {
		return Descriptor{}, fmt.Errorf("descriptor region has allocated bytes (%d) but zero committed size",
			d.Region.Allocated)
	}
	if !d.BitmapBase.IsZero() {
		if d.BitmapGranule == 0 {
			return Descriptor{}, errors.New("descriptor publishes a mark bitmap with zero granule")
		}
		if d.BitmapGranule&(d.BitmapGranule-1) != 0 {
			return Descriptor{}, fmt.Errorf("descriptor bitmap granule %d is not a power of two", d.BitmapGranule)
		}
	}
	return d, nil
}

// EncodeDescriptor renders d in the published wire layout. Heapscope
// itself only reads descriptors; encoding exists for cooperating
// runtimes written in Go and for tests.
func EncodeDescriptor(d Descriptor) []byte {
	words := [DescriptorWords]uint64{
		DescriptorMagic,
		d.Version,
		uint64(d.Phase),
		d.CyclesStarted,
		d.CyclesCompleted,
		uint64(d.Region.Start),
		d.Region.Committed,
		d.Region.Allocated,
		uint64(d.BitmapBase),
		d.BitmapSize,
		d.BitmapGranule,
	}
	raw := make([]byte, DescriptorSize)
	for i, w := range words {
		binary.LittleEndian.PutUint64(raw[i*8:], w)
	}
	return raw
}
