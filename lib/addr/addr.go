// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package addr provides the address and heap-region types used to name
// locations in an inspected process's address space.
//
// Heapscope supports 64-bit little-endian targets only, so an Address
// is always a 64-bit value. Addresses are formatted as 0x-prefixed hex
// everywhere: logs, errors, CLI output, and test diagnostics.
package addr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Address is a location in the inspected process's address space.
type Address uint64

// String formats the address as 0x-prefixed lowercase hex. This is the
// canonical rendering used in logs and diagnostics.
func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Plus returns the address offset forward by n bytes.
func (a Address) Plus(n uint64) Address {
	return a + Address(n)
}

// Diff returns the byte distance from b to a. Panics if b > a; callers
// compare bounded addresses whose ordering they have already checked.
func (a Address) Diff(b Address) uint64 {
	if b > a {
		panic(fmt.Sprintf("addr: Diff(%s, %s): negative distance", a, b))
	}
	return uint64(a - b)
}

// IsZero reports whether the address is the null address.
func (a Address) IsZero() bool {
	return a == 0
}

// Aligned reports whether the address is a multiple of alignment.
// Alignment must be a power of two.
func (a Address) Aligned(alignment uint64) bool {
	return uint64(a)&(alignment-1) == 0
}

// Parse parses an address from its string form. Accepts 0x-prefixed
// hex (the canonical form) and plain decimal.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parsing address: empty string")
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	value, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing address %q: %w", s, err)
	}
	return Address(value), nil
}

// Region describes one contiguous range of target memory managed by
// the collector. Start is fixed for the lifetime of the region;
// Committed and Allocated are re-read from the target at each halt.
type Region struct {
	// Name identifies the region in logs and statistics output.
	Name string

	// Start is the first address of the region.
	Start Address

	// Committed is the number of bytes of address space backing the
	// region. Addresses in [Start, Start+Committed) belong to the
	// region.
	Committed uint64

	// Allocated is the allocation watermark: the number of bytes from
	// Start below which objects and quasi-objects may exist. Always
	// Allocated <= Committed. Memory between the watermark and the
	// committed end is backed but holds nothing classifiable.
	Allocated uint64
}

// End returns the first address past the region's committed bounds.
func (r Region) End() Address {
	return r.Start.Plus(r.Committed)
}

// AllocatedEnd returns the first address past the allocation watermark.
func (r Region) AllocatedEnd() Address {
	return r.Start.Plus(r.Allocated)
}

// Contains reports whether a falls within the region's committed
// bounds.
func (r Region) Contains(a Address) bool {
	return a >= r.Start && a < r.End()
}

// ContainsAllocated reports whether a falls below the allocation
// watermark, where objects may exist.
func (r Region) ContainsAllocated(a Address) bool {
	return a >= r.Start && a < r.AllocatedEnd()
}

// Validate checks the descriptor for internal coherence: a non-zero
// extent, a watermark within the committed bounds, and no address
// wraparound.
func (r Region) Validate() error {
	if r.Committed == 0 {
		return fmt.Errorf("region %q: zero committed size", r.Name)
	}
	if r.Allocated > r.Committed {
		return fmt.Errorf("region %q: allocated watermark %d exceeds committed size %d",
			r.Name, r.Allocated, r.Committed)
	}
	if uint64(r.Start) > math.MaxUint64-r.Committed {
		return fmt.Errorf("region %q: bounds wrap the address space (start %s, committed %d)",
			r.Name, r.Start, r.Committed)
	}
	return nil
}

// String renders the region as name[start..end) with the allocation
// watermark.
func (r Region) String() string {
	return fmt.Sprintf("%s[%s..%s) allocated=%d", r.Name, r.Start, r.End(), r.Allocated)
}
