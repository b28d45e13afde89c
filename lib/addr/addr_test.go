// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package addr_test

import (
	"math"
	"testing"

	"github.com/heapscope/heapscope/lib/addr"
)

func TestAddressString(t *testing.T) {
	cases := []struct {
		in   addr.Address
		want string
	}{
		{0, "0x0"},
		{0x10, "0x10"},
		{0xdeadbeef, "0xdeadbeef"},
		{math.MaxUint64, "0xffffffffffffffff"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("Address(%d).String() = %q, want %q", uint64(c.in), got, c.want)
		}
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want addr.Address
	}{
		{"0x0", 0},
		{"0x10", 0x10},
		{"0X10", 0x10},
		{"16", 16},
		{" 0xdeadbeef ", 0xdeadbeef},
		{"0xffffffffffffffff", math.MaxUint64},
	}
	for _, c := range cases {
		got, err := addr.Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0x", "xyz", "-4", "0x10q", "ten"} {
		if _, err := addr.Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestAligned(t *testing.T) {
	if !addr.Address(0x1000).Aligned(8) {
		t.Error("0x1000 should be 8-aligned")
	}
	if addr.Address(0x1004).Aligned(8) {
		t.Error("0x1004 should not be 8-aligned")
	}
	if !addr.Address(0).Aligned(8) {
		t.Error("0 should be 8-aligned")
	}
}

func TestDiff(t *testing.T) {
	a := addr.Address(0x2000)
	b := addr.Address(0x1ff0)
	if got := a.Diff(b); got != 0x10 {
		t.Errorf("Diff = %d, want 16", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("Diff with reversed operands should panic")
		}
	}()
	b.Diff(a)
}

// --- regions ---

func testRegion() addr.Region {
	return addr.Region{
		Name:      "object space",
		Start:     0x10000,
		Committed: 0x4000,
		Allocated: 0x1000,
	}
}

func TestRegionBounds(t *testing.T) {
	r := testRegion()

	if got := r.End(); got != 0x14000 {
		t.Errorf("End = %s, want 0x14000", got)
	}
	if got := r.AllocatedEnd(); got != 0x11000 {
		t.Errorf("AllocatedEnd = %s, want 0x11000", got)
	}

	cases := []struct {
		a           addr.Address
		contains    bool
		inAllocated bool
	}{
		{0xffff, false, false},  // one below start
		{0x10000, true, true},   // first address
		{0x10fff, true, true},   // last allocated
		{0x11000, true, false},  // first unallocated
		{0x13fff, true, false},  // last committed
		{0x14000, false, false}, // one past end
	}
	for _, c := range cases {
		if got := r.Contains(c.a); got != c.contains {
			t.Errorf("Contains(%s) = %v, want %v", c.a, got, c.contains)
		}
		if got := r.ContainsAllocated(c.a); got != c.inAllocated {
			t.Errorf("ContainsAllocated(%s) = %v, want %v", c.a, got, c.inAllocated)
		}
	}
}

func TestRegionValidate(t *testing.T) {
	if err := testRegion().Validate(); err != nil {
		t.Fatalf("valid region rejected: %v", err)
	}

	bad := testRegion()
	bad.Committed = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero committed size accepted")
	}

	bad = testRegion()
	bad.Allocated = bad.Committed + 1
	if err := bad.Validate(); err == nil {
		t.Error("watermark past committed end accepted")
	}

	bad = testRegion()
	bad.Start = math.MaxUint64 - 16
	if err := bad.Validate(); err == nil {
		t.Error("wrapping bounds accepted")
	}
}
