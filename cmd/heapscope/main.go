// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own diagnostics return an ExitError
		// with the desired exit code. Don't print a redundant "error:"
		// line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCommand().Execute(os.Args[1:])
}

// rootCommand builds the complete heapscope command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "heapscope",
		Description: `Heapscope: remote heap reference and status inspection.

Attach to a cooperating process, track references into its collected
heap, and reconcile their statuses at every stop-the-world halt.`,
		Subcommands: []*cli.Command{
			attachCommand(),
			watchCommand(),
			snapshotCommand(),
			journalCommand(),
			demoCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("heapscope %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Probe a running target's heap descriptor",
				Command:     "heapscope attach --pid 4242 --descriptor 0x7f2a00001000",
			},
			{
				Description: "Watch a target, one reconciliation pass per interval",
				Command:     "heapscope watch --pid 4242 --descriptor 0x7f2a00001000 --interval 2s",
			},
			{
				Description: "Expose pass statistics for scraping",
				Command:     "heapscope watch --pid 4242 --descriptor 0x7f2a00001000 --metrics :9142",
			},
			{
				Description: "Capture one snapshot of the committed region",
				Command:     "heapscope snapshot capture --pid 4242 --descriptor 0x7f2a00001000",
			},
			{
				Description: "Show the last ten journal records",
				Command:     "heapscope journal recent --limit 10",
			},
			{
				Description: "Walk a simulated target through a full collection cycle",
				Command:     "heapscope demo",
			},
		},
	}
}
