// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "heapscope",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "journal",
				Run: func(args []string) error {
					called = "journal"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"journal"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "journal" {
		t.Errorf("dispatched to %q, want %q", called, "journal")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "heapscope",
		Subcommands: []*Command{
			{
				Name: "journal",
				Subcommands: []*Command{
					{
						Name: "purge",
						Run: func(args []string) error {
							called = "journal purge"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"journal", "purge", "extra-arg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "journal purge" {
		t.Errorf("dispatched to %q, want %q", called, "journal purge")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var outputDir string
	var target string

	command := &Command{
		Name: "snapshot",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
			flagSet.StringVar(&outputDir, "output", "/var/lib/heapscope", "output directory")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--output", "/tmp/snaps", "0x7f2a00001000"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if outputDir != "/tmp/snaps" {
		t.Errorf("outputDir = %q, want %q", outputDir, "/tmp/snaps")
	}
	if target != "0x7f2a00001000" {
		t.Errorf("target = %q, want %q", target, "0x7f2a00001000")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "watch",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.Bool("verbose", false, "debug logging")
			flagSet.String("descriptor", "", "descriptor address")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--descriptr"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --descriptor") {
		t.Errorf("error = %q, want suggestion for '--descriptor'", errStr)
	}
	// Suggestion should be on the same line as the error, not buried.
	if !strings.Contains(errStr, "descriptr") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	// Should include a pointer to --help.
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "watch",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.Bool("verbose", false, "debug logging")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "heapscope",
		Subcommands: []*Command{
			{Name: "watch"},
			{Name: "journal"},
			{Name: "version"},
		},
	}

	err := root.Execute([]string{"jornal"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"journal\"") {
		t.Errorf("error = %q, want suggestion for 'journal'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "heapscope",
		Subcommands: []*Command{
			{Name: "watch"},
			{Name: "journal"},
		},
	}

	err := root.Execute([]string{"zzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "heapscope",
				Summary: "Remote heap inspection",
				Subcommands: []*Command{
					{Name: "journal", Summary: "Reconciliation journal operations"},
				},
			}

			err := root.Execute([]string{helpArg})
			if err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	root := &Command{
		Name: "heapscope",
		Subcommands: []*Command{
			{Name: "journal", Summary: "Reconciliation journal operations"},
		},
	}

	err := root.Execute([]string{})
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "heapscope",
		Description: "Remote heap reference and status inspection.",
		Subcommands: []*Command{
			{Name: "attach", Summary: "Probe a target's published heap descriptor"},
			{Name: "watch", Summary: "Track references against a live target"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Probe a running target",
				Command:     "heapscope attach --pid 4242 --descriptor 0x7f2a00001000",
			},
			{
				Description: "Watch a target and journal every collection cycle",
				Command:     "heapscope watch --pid 4242 --descriptor 0x7f2a00001000",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	// Verify structural elements are present.
	for _, want := range []string{
		"Remote heap reference and status inspection.",
		"Usage:",
		"heapscope <command> [flags]",
		"Commands:",
		"attach",
		"Probe a target's published heap descriptor",
		"watch",
		"Track references against a live target",
		"Examples:",
		"heapscope attach --pid 4242",
		"heapscope watch --pid 4242",
		"Run 'heapscope <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "attach",
		Summary: "Probe a target's published heap descriptor",
		Usage:   "heapscope attach --pid <pid> --descriptor <addr> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("attach", pflag.ContinueOnError)
			flagSet.Int("pid", 0, "target process ID")
			flagSet.String("descriptor", "", "published descriptor address")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"heapscope attach --pid <pid> --descriptor <addr> [flags]",
		"Flags:",
		"pid",
		"descriptor",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "heapscope"}
	journal := &Command{Name: "journal", parent: root}
	purge := &Command{Name: "purge", parent: journal}

	if got := root.fullName(); got != "heapscope" {
		t.Errorf("root.fullName() = %q, want %q", got, "heapscope")
	}
	if got := journal.fullName(); got != "heapscope journal" {
		t.Errorf("journal.fullName() = %q, want %q", got, "heapscope journal")
	}
	if got := purge.fullName(); got != "heapscope journal purge" {
		t.Errorf("purge.fullName() = %q, want %q", got, "heapscope journal purge")
	}
}
