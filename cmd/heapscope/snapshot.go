// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/clock"
	"github.com/heapscope/heapscope/lib/codec"
	"github.com/heapscope/heapscope/lib/config"
	"github.com/heapscope/heapscope/lib/session"
	"github.com/heapscope/heapscope/lib/snapshot"
	"github.com/heapscope/heapscope/lib/target"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Capture and inspect heap snapshots",
		Description: `Capture the target's committed heap region during a halt and store
it content-addressed in the snapshot store. Stored snapshots are
compressed, optionally encrypted with the session key, and verified
against their content address on every read.`,
		Subcommands: []*cli.Command{
			snapshotCaptureCommand(),
			snapshotListCommand(),
			snapshotShowCommand(),
			snapshotVerifyCommand(),
		},
	}
}

// openStore opens the snapshot store under the configured root,
// honoring per-command key and compression overrides. The returned
// release func zeroes the session key, if one was loaded.
func openStore(cfg *config.Config, keyFile, compression string, logger *slog.Logger) (*snapshot.Store, func(), error) {
	if keyFile == "" {
		keyFile = cfg.Snapshot.KeyFile
	}
	if compression == "" {
		compression = cfg.Snapshot.Compression
	}
	key, err := sessionKeyFromFile(keyFile)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if key != nil {
			key.Close()
		}
	}
	tag, err := resolveCompression(compression)
	if err != nil {
		release()
		return nil, nil, err
	}
	store, err := snapshot.New(snapshot.Config{
		Root:        cfg.Paths.Snapshots,
		SessionKey:  key,
		Compression: tag,
		Logger:      logger,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return store, release, nil
}

// resolveSnapshotID accepts a full 64-hex content address, a
// snap-<prefix> reference, or a bare unambiguous hex prefix.
func resolveSnapshotID(store *snapshot.Store, arg string) (snapshot.ID, error) {
	if id, err := snapshot.ParseID(arg); err == nil {
		return id, nil
	}
	prefix := strings.TrimPrefix(arg, "snap-")
	if prefix == "" {
		return snapshot.ID{}, fmt.Errorf("empty snapshot reference")
	}
	manifests, err := store.List()
	if err != nil {
		return snapshot.ID{}, err
	}
	var matches []string
	for _, m := range manifests {
		if strings.HasPrefix(m.ID, prefix) {
			matches = append(matches, m.ID)
		}
	}
	switch len(matches) {
	case 0:
		return snapshot.ID{}, fmt.Errorf("no snapshot matches %q", arg)
	case 1:
		return snapshot.ParseID(matches[0])
	default:
		return snapshot.ID{}, fmt.Errorf("ambiguous reference %q: %d snapshots match", arg, len(matches))
	}
}

type snapshotCaptureParams struct {
	Target      cli.TargetConfig
	Config      string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
	Compression string `flag:"compression" desc:"compression algorithm: auto, none, lz4, zstd (overrides config)"`
	KeyFile     string `flag:"key-file" desc:"hex-encoded 32-byte key file for snapshot encryption (overrides config)"`
	Verbose     bool   `flag:"verbose,v" desc:"enable debug logging"`
}

func snapshotCaptureCommand() *cli.Command {
	params := &snapshotCaptureParams{}
	return &cli.Command{
		Name:    "capture",
		Summary: "Halt the target and capture its heap region",
		Usage:   "heapscope snapshot capture --pid <pid> --descriptor <addr> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("capture", params)
		},
		Run: func(args []string) error {
			return runSnapshotCapture(params)
		},
	}
}

func runSnapshotCapture(params *snapshotCaptureParams) error {
	logger := commandLogger(params.Verbose)

	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	store, release, err := openStore(cfg, params.KeyFile, params.Compression, logger)
	if err != nil {
		return err
	}
	defer release()

	clk := clock.Real()
	process, descriptorAddr, err := params.Target.Attach(clk)
	if err != nil {
		return err
	}
	if err := process.Halt(); err != nil {
		return fmt.Errorf("halt target: %w", err)
	}
	tgt, err := target.New(target.Config{Memory: process, Descriptor: descriptorAddr, Logger: logger})
	if resumeErr := process.Resume(); resumeErr != nil {
		logger.Warn("resuming target", "error", resumeErr)
	}
	if err != nil {
		return err
	}

	sess := session.New(session.Config{Halter: process, Clock: clk, Logger: logger})
	sess.AddRefresher(tgt)

	var capture *snapshot.Capture
	err = sess.RunHalted(func(epoch uint64) error {
		region, err := tgt.HeapRegion()
		if err != nil {
			return err
		}
		c, err := snapshot.CaptureRegion(region, process, tgt, epoch, clk.Now())
		if err != nil {
			return err
		}
		capture = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("capture heap region: %w", err)
	}

	// Compression, encryption, and fsync happen after the target has
	// resumed; only the raw read extends the stop.
	result, err := store.Write(capture)
	if err != nil {
		return err
	}

	encrypted := ""
	if result.Encrypted {
		encrypted = ", encrypted"
	}
	fmt.Printf("ref:        %s\n", result.Ref)
	fmt.Printf("id:         %s\n", snapshot.FormatID(result.ID))
	fmt.Printf("epoch:      %d (%s)\n", capture.Epoch, capture.Phase)
	fmt.Printf("size:       %d bytes\n", result.Size)
	fmt.Printf("stored:     %d bytes (%s%s)\n", result.StoredSize, result.Compression, encrypted)
	if result.Duplicate {
		fmt.Printf("duplicate:  identical snapshot already stored\n")
	}
	return nil
}

type snapshotListParams struct {
	cli.JSONOutput
	Config string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
}

func snapshotListCommand() *cli.Command {
	params := &snapshotListParams{}
	return &cli.Command{
		Name:    "list",
		Summary: "List stored snapshots",
		Usage:   "heapscope snapshot list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", params)
		},
		Run: func(args []string) error {
			return runSnapshotList(params)
		},
	}
}

func runSnapshotList(params *snapshotListParams) error {
	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	// Listing reads manifests only; no session key needed.
	store, err := snapshot.New(snapshot.Config{Root: cfg.Paths.Snapshots, Logger: cli.NewCommandLogger()})
	if err != nil {
		return err
	}
	manifests, err := store.List()
	if err != nil {
		return err
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CapturedAt.After(manifests[j].CapturedAt)
	})

	if done, err := params.EmitJSON(manifests); done {
		return err
	}

	if len(manifests) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tEPOCH\tPHASE\tSIZE\tSTORED\tCOMPRESSION\tCAPTURED")
	for _, m := range manifests {
		ref := m.ID
		if id, err := snapshot.ParseID(m.ID); err == nil {
			ref = snapshot.FormatRef(id)
		}
		compression := m.Compression
		if m.Encrypted {
			compression += "+enc"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			ref, m.Epoch, m.Phase, m.Size, m.StoredSize, compression,
			m.CapturedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

type snapshotShowParams struct {
	Config string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
	Diag   bool   `flag:"diag" desc:"print the raw manifest in CBOR diagnostic notation"`
}

func snapshotShowCommand() *cli.Command {
	params := &snapshotShowParams{}
	return &cli.Command{
		Name:    "show",
		Summary: "Print a snapshot's manifest",
		Usage:   "heapscope snapshot show <id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", params)
		},
		Run: func(args []string) error {
			return runSnapshotShow(params, args)
		},
	}
}

func runSnapshotShow(params *snapshotShowParams, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: heapscope snapshot show <id>")
	}
	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	store, err := snapshot.New(snapshot.Config{Root: cfg.Paths.Snapshots, Logger: cli.NewCommandLogger()})
	if err != nil {
		return err
	}
	id, err := resolveSnapshotID(store, args[0])
	if err != nil {
		return err
	}
	if params.Diag {
		// Diagnostic notation renders whatever is in the file, including
		// manifests written under a schema this build does not know.
		raw, err := store.RawManifest(id)
		if err != nil {
			return err
		}
		notation, err := codec.Diagnose(raw)
		if err != nil {
			return fmt.Errorf("diagnosing manifest: %w", err)
		}
		fmt.Println(notation)
		return nil
	}
	manifest, err := store.Stat(id)
	if err != nil {
		return err
	}
	return cli.WriteJSON(manifest)
}

type snapshotVerifyParams struct {
	Config  string `flag:"config" desc:"path to a heapscope config file (overrides HEAPSCOPE_CONFIG)"`
	KeyFile string `flag:"key-file" desc:"hex-encoded key file for encrypted snapshots (overrides config)"`
}

func snapshotVerifyCommand() *cli.Command {
	params := &snapshotVerifyParams{}
	return &cli.Command{
		Name:    "verify",
		Summary: "Re-read a snapshot and check its content address",
		Usage:   "heapscope snapshot verify <id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", params)
		},
		Run: func(args []string) error {
			return runSnapshotVerify(params, args)
		},
	}
}

func runSnapshotVerify(params *snapshotVerifyParams, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: heapscope snapshot verify <id>")
	}
	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger()
	store, release, err := openStore(cfg, params.KeyFile, "", logger)
	if err != nil {
		return err
	}
	defer release()

	id, err := resolveSnapshotID(store, args[0])
	if err != nil {
		return err
	}
	capture, err := store.Read(id)
	if err != nil {
		// A failed verification is a result, not a tool error: report it
		// and exit non-zero without the extra "error:" line.
		fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", snapshot.FormatRef(id), err)
		return &cli.ExitError{Code: 1}
	}
	fmt.Printf("%s: ok (%d bytes, epoch %d, %s, captured %s)\n",
		snapshot.FormatRef(id), len(capture.Data), capture.Epoch, capture.Phase,
		capture.CapturedAt.UTC().Format(time.RFC3339))
	return nil
}
