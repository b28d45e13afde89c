// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/clock"
	"github.com/heapscope/heapscope/lib/memio"
)

func TestTargetConfig_DescriptorAddress(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       addr.Address
		wantErr    bool
	}{
		{name: "hex", descriptor: "0x7f2a00001000", want: 0x7f2a00001000},
		{name: "decimal", descriptor: "4096", want: 4096},
		{name: "empty", descriptor: "", wantErr: true},
		{name: "garbage", descriptor: "not-an-address", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := TargetConfig{Descriptor: test.descriptor}
			got, err := c.DescriptorAddress()
			if test.wantErr {
				if err == nil {
					t.Fatalf("DescriptorAddress(%q) = %v, want error", test.descriptor, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DescriptorAddress(%q) error: %v", test.descriptor, err)
			}
			if got != test.want {
				t.Errorf("DescriptorAddress(%q) = %v, want %v", test.descriptor, got, test.want)
			}
		})
	}
}

func TestTargetConfig_AttachRequiresDescriptor(t *testing.T) {
	c := TargetConfig{PID: os.Getpid()}
	_, _, err := c.Attach(clock.Real())
	if err == nil {
		t.Fatal("Attach with no descriptor = nil, want error")
	}
	if !strings.Contains(err.Error(), "--descriptor is required") {
		t.Errorf("error = %q, want mention of --descriptor", err.Error())
	}
}

func TestTargetConfig_AttachRequiresPID(t *testing.T) {
	c := TargetConfig{Descriptor: "0x1000"}
	_, _, err := c.Attach(clock.Real())
	if err == nil {
		t.Fatal("Attach with no pid = nil, want error")
	}
	if !strings.Contains(err.Error(), "--pid is required") {
		t.Errorf("error = %q, want mention of --pid", err.Error())
	}
}

func TestTargetConfig_AttachSelf(t *testing.T) {
	// Attaching to our own process exercises the real attach path: the
	// existence probe succeeds and the parsed descriptor comes back.
	c := TargetConfig{PID: os.Getpid(), Descriptor: "0x2000"}
	process, descriptor, err := c.Attach(clock.Real())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if process.PID() != os.Getpid() {
		t.Errorf("PID() = %d, want %d", process.PID(), os.Getpid())
	}
	if descriptor != 0x2000 {
		t.Errorf("descriptor = %v, want 0x2000", descriptor)
	}
}

func TestTargetConfig_AttachMissingProcess(t *testing.T) {
	c := TargetConfig{PID: math.MaxInt32, Descriptor: "0x1000"}
	_, _, err := c.Attach(clock.Real())
	if err == nil {
		t.Fatal("Attach to absent pid = nil, want error")
	}
	if !errors.Is(err, memio.ErrTargetGone) {
		t.Errorf("error = %v, want ErrTargetGone", err)
	}
}
