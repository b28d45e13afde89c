// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/clock"
	"github.com/heapscope/heapscope/lib/target"
)

type attachParams struct {
	Target  cli.TargetConfig
	Config  string `flag:"config" desc:"path to a heapscope config file"`
	Verbose bool   `flag:"verbose,v" desc:"debug logging"`
}

func attachCommand() *cli.Command {
	var params attachParams
	return &cli.Command{
		Name:    "attach",
		Summary: "Probe a target's published heap descriptor",
		Description: `Attach halts the target once, reads and validates its published heap
descriptor, prints what was found, and resumes the target. Use it to
confirm a pid/descriptor pair and layout profile before starting a
watch.`,
		Usage: "heapscope attach --pid <pid> --descriptor <addr> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("attach", &params)
		},
		Run: func(args []string) error {
			return runAttach(&params)
		},
	}
}

func runAttach(params *attachParams) error {
	logger := commandLogger(params.Verbose)

	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	profile, err := layoutProfile(cfg)
	if err != nil {
		return err
	}

	process, descriptorAddr, err := params.Target.Attach(clock.Real())
	if err != nil {
		return err
	}

	if err := process.Halt(); err != nil {
		return fmt.Errorf("halt target: %w", err)
	}
	defer func() {
		if err := process.Resume(); err != nil {
			logger.Warn("resuming target", "error", err)
		}
	}()

	tgt, err := target.New(target.Config{
		Memory:     process,
		Descriptor: descriptorAddr,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	desc := tgt.Descriptor()
	fmt.Printf("pid:         %d\n", process.PID())
	fmt.Printf("descriptor:  %s\n", descriptorAddr)
	fmt.Printf("phase:       %s (cycles: %d started, %d completed)\n",
		desc.Phase, desc.CyclesStarted, desc.CyclesCompleted)
	if desc.Region.Committed == 0 {
		fmt.Printf("region:      %s (not ready)\n", desc.Region.Name)
	} else {
		fmt.Printf("region:      %s @ %s, committed %d, allocated %d\n",
			desc.Region.Name, desc.Region.Start, desc.Region.Committed, desc.Region.Allocated)
	}
	if desc.BitmapBase.IsZero() {
		fmt.Printf("bitmap:      none published\n")
	} else {
		fmt.Printf("bitmap:      base %s, %d bytes, granule %d\n",
			desc.BitmapBase, desc.BitmapSize, desc.BitmapGranule)
	}
	fmt.Printf("profile:     %s (word %d, header %d words, min object %d)\n",
		profile.Name, profile.WordSize, profile.HeaderWords, profile.MinObjectSize)
	return nil
}
