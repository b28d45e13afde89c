// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"math"
	"time"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/memio"
)

// Capture is one region's committed bytes together with the collector
// state observed at the same halt.
type Capture struct {
	// Region is the descriptor the bytes were read under. Its
	// allocation watermark tells a later reader how far into Data
	// objects may exist.
	Region addr.Region

	// Epoch is the session epoch at which the capture was taken.
	Epoch uint64

	// Phase is the collector phase observed at the halt.
	Phase gcphase.Phase

	// CyclesStarted and CyclesCompleted are the collector's cycle
	// counters at the halt.
	CyclesStarted   uint64
	CyclesCompleted uint64

	// CapturedAt is the wall-clock time of the capture.
	CapturedAt time.Time

	// Data holds the region's committed bytes, Region.Committed long.
	Data []byte
}

// ID returns the capture's content address.
func (c *Capture) ID() ID {
	return HashPayload(c.Data)
}

// CaptureRegion reads the committed bytes of region from mem and
// records the collector state from oracle. The caller must hold the
// target halted for the duration: the bytes are only coherent while
// nothing mutates them, and the oracle counters must describe the
// same instant as the bytes.
func CaptureRegion(region addr.Region, mem memio.Reader, oracle gcphase.Oracle, epoch uint64, capturedAt time.Time) (*Capture, error) {
	if err := region.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if region.Committed > math.MaxInt {
		return nil, fmt.Errorf("snapshot: region %q committed size %d exceeds the capture limit",
			region.Name, region.Committed)
	}

	data, err := mem.ReadBytes(region.Start, int(region.Committed))
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading region %q: %w", region.Name, err)
	}

	return &Capture{
		Region:          region,
		Epoch:           epoch,
		Phase:           oracle.Phase(),
		CyclesStarted:   oracle.StartedCount(),
		CyclesCompleted: oracle.CompletedCount(),
		CapturedAt:      capturedAt,
		Data:            data,
	}, nil
}
