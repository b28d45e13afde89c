// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/config"
	"github.com/heapscope/heapscope/lib/journal"
)

func journalCommand() *cli.Command {
	return &cli.Command{
		Name:    "journal",
		Summary: "Inspect the reconciliation journal",
		Description: `Read the journal that watch appends to: one record per halt, with
the collector state, per-status reference counts, and the transition
deltas observed by the reconciliation pass.`,
		Subcommands: []*cli.Command{
			journalRecentCommand(),
			journalCycleCommand(),
			journalPurgeCommand(),
		},
	}
}

func openJournal(cfg *config.Config, logger *slog.Logger) (*journal.Journal, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return journal.Open(journal.Config{Path: cfg.Paths.Journal, Logger: logger})
}

// printRecords renders journal records as a table, newest as given.
func printRecords(records []journal.Record) error {
	if len(records) == 0 {
		fmt.Println("no records")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EPOCH\tTIME\tPHASE\tCYCLE\tLIVE\tUNREACH\tFREE\tDARK\tEVICTED\tDURATION\tNOTE")
	for _, r := range records {
		note := ""
		if r.NoOp {
			note = "no-op"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Epoch, r.WallTime.UTC().Format(time.RFC3339), r.Phase,
			r.CyclesStarted, r.CyclesCompleted,
			r.Live, r.Unreachable, r.FreeChunks, r.DarkMatter, r.Evicted,
			r.Duration.Round(time.Microsecond), note)
	}
	return tw.Flush()
}

type journalRecentParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
	Limit  int    `flag:"limit,n" desc:"maximum records to show" default:"20"`
}

func journalRecentCommand() *cli.Command {
	params := &journalRecentParams{}
	return &cli.Command{
		Name:    "recent",
		Summary: "Show the most recent journal records",
		Usage:   "heapscope journal recent [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("recent", params)
		},
		Run: func(args []string) error {
			return runJournalRecent(params)
		},
	}
}

func runJournalRecent(params *journalRecentParams) error {
	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	jnl, err := openJournal(cfg, cli.NewCommandLogger())
	if err != nil {
		return err
	}
	defer jnl.Close()

	records, err := jnl.Recent(context.Background(), params.Limit)
	if err != nil {
		return err
	}
	if done, err := params.EmitJSON(records); done {
		return err
	}
	return printRecords(records)
}

type journalCycleParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
}

func journalCycleCommand() *cli.Command {
	params := &journalCycleParams{}
	return &cli.Command{
		Name:    "cycle",
		Summary: "Show the records of one collection cycle",
		Usage:   "heapscope journal cycle <started-counter> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cycle", params)
		},
		Run: func(args []string) error {
			return runJournalCycle(params, args)
		},
	}
}

func runJournalCycle(params *journalCycleParams, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: heapscope journal cycle <started-counter>")
	}
	started, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parse cycle counter %q: %w", args[0], err)
	}
	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	jnl, err := openJournal(cfg, cli.NewCommandLogger())
	if err != nil {
		return err
	}
	defer jnl.Close()

	records, err := jnl.ByCycle(context.Background(), started)
	if err != nil {
		return err
	}
	if done, err := params.EmitJSON(records); done {
		return err
	}
	return printRecords(records)
}

type journalPurgeParams struct {
	Config    string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
	OlderThan string `flag:"older-than" desc:"delete records older than this duration, e.g. 720h" default:"720h"`
}

func journalPurgeCommand() *cli.Command {
	params := &journalPurgeParams{}
	return &cli.Command{
		Name:    "purge",
		Summary: "Delete old journal records",
		Usage:   "heapscope journal purge [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("purge", params)
		},
		Run: func(args []string) error {
			return runJournalPurge(params)
		},
	}
}

func runJournalPurge(params *journalPurgeParams) error {
	d, err := time.ParseDuration(params.OlderThan)
	if err != nil {
		return fmt.Errorf("parse --older-than: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	jnl, err := openJournal(cfg, cli.NewCommandLogger())
	if err != nil {
		return err
	}
	defer jnl.Close()

	cutoff := time.Now().Add(-d)
	n, err := jnl.Purge(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d records older than %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}
