// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/layout"
	"github.com/heapscope/heapscope/lib/remoteheap"
	"github.com/heapscope/heapscope/lib/session"
	"github.com/heapscope/heapscope/lib/simheap"
)

type demoParams struct {
	Verbose bool `flag:"verbose,v" desc:"enable debug logging"`
}

func demoCommand() *cli.Command {
	params := &demoParams{}
	return &cli.Command{
		Name:    "demo",
		Summary: "Walk a simulated target through a collection cycle",
		Description: `Run the reconciliation engine against an in-process simulated heap:
allocate objects, trace them through a full mark-sweep cycle, and
print how each tracked reference's status moves at every halt.

No real target is attached; everything runs in this process.`,
		Usage: "heapscope demo [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("demo", params)
		},
		Run: func(args []string) error {
			return runDemo(params)
		},
	}
}

func runDemo(params *demoParams) error {
	logger := commandLogger(params.Verbose)
	profile := layout.Default()
	heap := simheap.New(0x10000, 1<<16, profile)

	// Nil halter: the simulated target is always stopped.
	sess := session.New(session.Config{Logger: logger})
	registry, err := remoteheap.New(remoteheap.Config{
		Memory:  heap,
		Oracle:  heap,
		Regions: heap,
		Layout:  profile,
		Lock:    sess.Lock(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	sess.AddRefresher(registry)

	// The mutator allocates two objects, frees a third, and leaves a
	// sliver of dark matter.
	objA, err := heap.Alloc(64)
	if err != nil {
		return err
	}
	objB, err := heap.Alloc(128)
	if err != nil {
		return err
	}
	chunk, err := heap.Alloc(256)
	if err != nil {
		return err
	}
	heap.PlaceFreeChunk(chunk, 256)
	dark, err := heap.Alloc(64)
	if err != nil {
		return err
	}
	heap.PlaceDarkMatter(dark, 64)

	fmt.Printf("simulated target: %s (profile %s)\n\n", heap.Region(), profile.Name)

	// Epoch 1 discovers the heap region; references can be created
	// only against a known region.
	if err := sess.RunHalted(nil); err != nil {
		return err
	}

	var refA, refB, refFree, refDark *remoteheap.Reference
	err = sess.RunLocked(func() error {
		var err error
		if refA, err = registry.MakeReference(objA); err != nil {
			return err
		}
		if refB, err = registry.MakeReference(objB); err != nil {
			return err
		}
		if refFree, err = registry.MakeQuasiReference(chunk); err != nil {
			return err
		}
		refDark, err = registry.MakeQuasiReference(dark)
		return err
	})
	if err != nil {
		return err
	}
	if refA == nil || refB == nil || refFree == nil || refDark == nil {
		return fmt.Errorf("demo heap did not classify as laid out")
	}

	report := func(heading string) {
		fmt.Println(heading)
		for _, entry := range []struct {
			name string
			ref  *remoteheap.Reference
		}{
			{"obj-a", refA},
			{"obj-b", refB},
			{"chunk", refFree},
			{"dark", refDark},
		} {
			fmt.Printf("  %-6s %-12s %s\n", entry.name, entry.ref.Origin(), entry.ref.Status())
		}
		fmt.Println()
	}

	report("references created while the target mutates:")

	// The collector starts a cycle and begins tracing.
	heap.BeginAnalyzing()
	heap.SetMark(objA, gcphase.Gray)
	if err := sess.RunHalted(nil); err != nil {
		return err
	}
	report("analysis in progress (marks in flux, statuses hold):")

	// Tracing finishes: obj-a was reached, obj-b never was.
	heap.SetMark(objA, gcphase.Black)
	heap.BeginReclaiming()
	if err := sess.RunHalted(nil); err != nil {
		return err
	}
	report("analysis complete, reclaiming (white objects condemned):")

	// The sweeper retires obj-b and the cycle ends.
	heap.Zap(objB, 128)
	heap.CompleteCycle()
	if err := sess.RunHalted(nil); err != nil {
		return err
	}
	report("cycle complete (reclaimed space is dead):")

	var stats remoteheap.Stats
	if err := sess.RunLocked(func() error {
		stats = registry.Stats()
		return nil
	}); err != nil {
		return err
	}
	return remoteheap.FormatStats(os.Stdout, stats, true)
}
