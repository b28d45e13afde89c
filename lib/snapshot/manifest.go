// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"time"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
)

// ManifestVersion is the current manifest format version. Bumped when
// the manifest schema changes incompatibly.
const ManifestVersion = 1

// Manifest describes one stored snapshot. It is persisted as
// deterministic CBOR next to the payload and rendered as JSON by the
// CLI, hence the json tags serving both encodings.
type Manifest struct {
	// FormatVersion is the manifest schema version.
	FormatVersion int `json:"format_version"`

	// ID is the hex-encoded content address of the uncompressed
	// payload bytes.
	ID string `json:"id"`

	// Epoch is the session epoch at which the capture was taken.
	Epoch uint64 `json:"epoch"`

	// Phase is the collector phase observed at the halt, in its
	// canonical string form.
	Phase string `json:"phase"`

	// CyclesStarted and CyclesCompleted are the collector's cycle
	// counters at the halt.
	CyclesStarted   uint64 `json:"cycles_started"`
	CyclesCompleted uint64 `json:"cycles_completed"`

	// Region records the captured region's bounds at the halt.
	Region RegionInfo `json:"region"`

	// Size is the uncompressed payload size in bytes. Always equal to
	// the region's committed size at the capture.
	Size int64 `json:"size"`

	// StoredSize is the on-disk payload size in bytes: compressed,
	// plus the encryption envelope when the snapshot is encrypted.
	StoredSize int64 `json:"stored_size"`

	// Compression is the manifest name of the compression tag the
	// payload was stored under.
	Compression string `json:"compression"`

	// Encrypted reports whether the payload is sealed with the
	// store's session key.
	Encrypted bool `json:"encrypted"`

	// CapturedAt is the wall-clock time of the capture.
	CapturedAt time.Time `json:"captured_at"`
}

// RegionInfo is the manifest form of a region descriptor.
type RegionInfo struct {
	Name      string `json:"name"`
	Start     uint64 `json:"start"`
	Committed uint64 `json:"committed"`
	Allocated uint64 `json:"allocated"`
}

// regionInfo converts a region descriptor to its manifest form.
func regionInfo(r addr.Region) RegionInfo {
	return RegionInfo{
		Name:      r.Name,
		Start:     uint64(r.Start),
		Committed: r.Committed,
		Allocated: r.Allocated,
	}
}

// Region converts the manifest form back to a region descriptor.
func (ri RegionInfo) Region() addr.Region {
	return addr.Region{
		Name:      ri.Name,
		Start:     addr.Address(ri.Start),
		Committed: ri.Committed,
		Allocated: ri.Allocated,
	}
}

// Validate checks the manifest for internal coherence before its
// fields are trusted to drive decryption and decompression.
func (m *Manifest) Validate() error {
	if m.FormatVersion != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d (expected %d)", m.FormatVersion, ManifestVersion)
	}
	if _, err := ParseID(m.ID); err != nil {
		return err
	}
	if _, err := gcphase.ParsePhase(m.Phase); err != nil {
		return err
	}
	if _, err := ParseCompressionTag(m.Compression); err != nil {
		return err
	}
	if err := m.Region.Region().Validate(); err != nil {
		return err
	}
	if m.Size <= 0 {
		return fmt.Errorf("non-positive payload size %d", m.Size)
	}
	if m.StoredSize <= 0 {
		return fmt.Errorf("non-positive stored size %d", m.StoredSize)
	}
	if m.CapturedAt.IsZero() {
		return fmt.Errorf("zero capture time")
	}
	return nil
}
