// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/heapscope/heapscope/cmd/heapscope/cli"
	"github.com/heapscope/heapscope/lib/clock"
	"github.com/heapscope/heapscope/lib/journal"
	"github.com/heapscope/heapscope/lib/memio"
	"github.com/heapscope/heapscope/lib/remoteheap"
	"github.com/heapscope/heapscope/lib/session"
	"github.com/heapscope/heapscope/lib/target"
)

type watchParams struct {
	Target    cli.TargetConfig
	Config    string `flag:"config" desc:"path to a heapscope config file"`
	Interval  string `flag:"interval" desc:"halt interval, e.g. 2s (overrides config)"`
	Metrics   string `flag:"metrics" desc:"listen address for the /metrics endpoint (overrides config)"`
	Horizon   uint64 `flag:"horizon" desc:"evict references untouched for this many epochs (0 keeps the config value)"`
	NoJournal bool   `flag:"no-journal" desc:"do not record pass records in the journal"`
	Verbose   bool   `flag:"verbose,v" desc:"debug logging"`
}

func watchCommand() *cli.Command {
	var params watchParams
	return &cli.Command{
		Name:    "watch",
		Summary: "Track a live target, one reconciliation pass per interval",
		Description: `Watch attaches to the target and repeats a halt cycle at the given
interval: stop the target with SIGSTOP, re-read its descriptor and
mark bitmap, reconcile every tracked reference, record the pass in
the journal, and resume the target. Runs until interrupted or until
the target exits.`,
		Usage: "heapscope watch --pid <pid> --descriptor <addr> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("watch", &params)
		},
		Run: func(args []string) error {
			return runWatch(&params)
		},
	}
}

func runWatch(params *watchParams) error {
	logger := commandLogger(params.Verbose)

	cfg, err := loadConfig(params.Config)
	if err != nil {
		return err
	}
	profile, err := layoutProfile(cfg)
	if err != nil {
		return err
	}

	interval, err := cfg.PollInterval()
	if err != nil {
		return err
	}
	if params.Interval != "" {
		interval, err = time.ParseDuration(params.Interval)
		if err != nil {
			return fmt.Errorf("parse --interval: %w", err)
		}
		if interval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
	}
	horizon := cfg.Eviction.Horizon
	if params.Horizon != 0 {
		horizon = params.Horizon
	}
	metricsListen := cfg.Watch.MetricsListen
	if params.Metrics != "" {
		metricsListen = params.Metrics
	}

	clk := clock.Real()
	process, descriptorAddr, err := params.Target.Attach(clk)
	if err != nil {
		return err
	}

	// Initial halt outside the session: target.New reads and validates
	// the descriptor, which needs one consistent view before the loop.
	if err := process.Halt(); err != nil {
		return fmt.Errorf("halt target: %w", err)
	}
	tgt, err := target.New(target.Config{
		Memory:     process,
		Descriptor: descriptorAddr,
		Logger:     logger,
	})
	if resumeErr := process.Resume(); resumeErr != nil {
		logger.Warn("resuming target", "error", resumeErr)
	}
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		Halter: process,
		Clock:  clk,
		Logger: logger,
	})
	registry, err := remoteheap.New(remoteheap.Config{
		Memory:          process,
		Oracle:          tgt,
		Regions:         tgt,
		Layout:          profile,
		Lock:            sess.Lock(),
		Logger:          logger,
		EvictionHorizon: horizon,
	})
	if err != nil {
		return err
	}
	// The registry classifies against the view the target refresher
	// rebuilds, so the target must refresh first.
	sess.AddRefresher(tgt)
	sess.AddRefresher(registry)

	var jnl *journal.Journal
	if !params.NoJournal {
		if err := cfg.EnsurePaths(); err != nil {
			return err
		}
		jnl, err = journal.Open(journal.Config{
			Path:   cfg.Paths.Journal,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer jnl.Close()
	}

	if metricsListen != "" {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(remoteheap.NewCollector(registry))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsListen, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", metricsListen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer server.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("watching target",
		"pid", process.PID(),
		"descriptor", descriptorAddr.String(),
		"interval", interval.String(),
		"phase", tgt.Phase().String(),
	)

	var prev remoteheap.Stats
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping", "reason", context.Cause(ctx))
			return nil
		case <-ticker.C:
		}

		start := clk.Now()
		var cur remoteheap.Stats
		var passEpoch uint64
		err := sess.RunHalted(func(epoch uint64) error {
			passEpoch = epoch
			cur = registry.Stats()
			return nil
		})
		if err != nil {
			if errors.Is(err, memio.ErrTargetGone) {
				logger.Info("target exited", "pid", process.PID())
				return nil
			}
			// Unreadable memory can be transient (the target was
			// resizing its heap when we halted it). Keep watching.
			logger.Error("reconciliation pass", "error", err)
			continue
		}
		duration := clk.Now().Sub(start)

		logger.Info("pass complete",
			"epoch", passEpoch,
			"phase", cur.Phase.String(),
			"cycles_started", cur.CyclesStarted,
			"cycles_completed", cur.CyclesCompleted,
			"live", cur.Live,
			"unreachable", cur.Unreachable,
			"free", cur.FreeChunks,
			"dark", cur.DarkMatter,
			"duration", duration.String(),
		)

		if jnl != nil {
			rec := journal.FromStats(passEpoch, prev, cur, start, duration)
			if err := jnl.Append(ctx, rec); err != nil {
				logger.Warn("journal append", "error", err)
			}
		}
		prev = cur
	}
}
