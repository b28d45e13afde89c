// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/clock"
	"github.com/heapscope/heapscope/lib/memio"
)

// TargetConfig holds the shared flags for selecting a target process and
// locating its published heap descriptor. Used by CLI commands that operate
// on a live target (attach, watch, snapshot capture).
//
// The descriptor address is printed by the target runtime at startup (most
// runtimes log it as "heapscope descriptor at 0x..."); heapscope cannot
// discover it on its own, so --descriptor is required alongside --pid.
//
// Usage pattern:
//
//	var target cli.TargetConfig
//	command := &cli.Command{
//	    Flags: func() *pflag.FlagSet {
//	        flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
//	        target.AddFlags(flagSet)
//	        return flagSet
//	    },
//	    Run: func(args []string) error {
//	        process, descriptor, err := target.Attach(clock.Real())
//	        ...
//	    },
//	}
type TargetConfig struct {
	PID        int
	Descriptor string
}

// AddFlags registers --pid and --descriptor on the given flag set.
func (c *TargetConfig) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.IntVar(&c.PID, "pid", 0, "process ID of the target (required)")
	flagSet.StringVar(&c.Descriptor, "descriptor", "", "address of the target's published heap descriptor, e.g. 0x7f2a00001000 (required)")
}

// DescriptorAddress parses the --descriptor flag. Accepts the formats that
// addr.Parse accepts: hex with 0x prefix or plain decimal.
func (c *TargetConfig) DescriptorAddress() (addr.Address, error) {
	if c.Descriptor == "" {
		return 0, fmt.Errorf("--descriptor is required")
	}
	descriptor, err := addr.Parse(c.Descriptor)
	if err != nil {
		return 0, fmt.Errorf("parse --descriptor: %w", err)
	}
	return descriptor, nil
}

// Attach validates both flags and attaches to the target process. The
// returned handle is attached but the target keeps running; callers that
// need a consistent view of target memory must Halt and Resume it around
// their reads.
func (c *TargetConfig) Attach(clk clock.Clock) (*memio.ProcessMemory, addr.Address, error) {
	descriptor, err := c.DescriptorAddress()
	if err != nil {
		return nil, 0, err
	}
	if c.PID <= 0 {
		return nil, 0, fmt.Errorf("--pid is required")
	}
	process, err := memio.AttachProcess(c.PID, clk)
	if err != nil {
		return nil, 0, fmt.Errorf("attach to pid %d: %w", c.PID, err)
	}
	return process, descriptor, nil
}
