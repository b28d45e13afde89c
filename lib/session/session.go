// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package session coordinates the halt/refresh/resume cycle of an
// inspection session.
//
// Everything heapscope knows about a target is only coherent while the
// target stands still. A Session owns the inspection Lock that guards
// all per-target state, counts halts as epochs, and drives the
// registered Refreshers in order at each halt so that every cached view
// of the target is rebuilt before user code runs.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/heapscope/heapscope/lib/clock"
)

// Lock is the inspection lock. All state derived from target memory
// (reference maps, cached descriptors) is guarded by it, and the
// accessors that touch such state assert that their caller holds it.
type Lock struct {
	mu sync.Mutex
}

// Lock acquires the inspection lock.
func (l *Lock) Lock() { l.mu.Lock() }

// Unlock releases the inspection lock.
func (l *Lock) Unlock() { l.mu.Unlock() }

// Held reports whether some goroutine currently holds the lock. It
// cannot tell whose goroutine that is, which is exactly the precision
// a precondition assertion needs: calling a guarded accessor with the
// lock free is always a bug.
func (l *Lock) Held() bool {
	if l.mu.TryLock() {
		l.mu.Unlock()
		return false
	}
	return true
}

// Halter stops and restarts the inspected target. memio.ProcessMemory
// implements it for live processes; simulated targets need none.
type Halter interface {
	Halt() error
	Resume() error
}

// Refresher is anything that rebuilds its view of the target at a
// halt. The session calls refreshers in registration order, so a
// refresher may rely on everything registered before it being current.
// Epochs are strictly increasing; a refresher that has already seen
// the given epoch treats the call as a no-op.
type Refresher interface {
	UpdateMemoryStatus(epoch uint64) error
}

// Config carries the session dependencies.
type Config struct {
	// Halter stops the target around each refresh. Nil means the
	// target is always stopped (a simulated heap or a core image).
	Halter Halter

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session owns the inspection lock and the halt cycle.
type Session struct {
	lock   Lock
	halter Halter
	clk    clock.Clock
	logger *slog.Logger

	epoch atomic.Uint64

	mu         sync.Mutex
	refreshers []Refresher
}

// New builds a Session from cfg.
func New(cfg Config) *Session {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		halter: cfg.Halter,
		clk:    clk,
		logger: logger,
	}
}

// Lock returns the session's inspection lock. Components that guard
// their state with it (the reference registry does) take it from here
// so every participant asserts against the same lock.
func (s *Session) Lock() *Lock {
	return &s.lock
}

// Epoch returns the number of completed halts.
func (s *Session) Epoch() uint64 {
	return s.epoch.Load()
}

// AdvanceEpoch begins a new inspection epoch and returns it. RunHalted
// calls it once per halt cycle; call it directly only when driving
// refreshers by hand under RunLocked.
func (s *Session) AdvanceEpoch() uint64 {
	return s.epoch.Add(1)
}

// AddRefresher registers r to run at every subsequent halt, after all
// previously registered refreshers.
func (s *Session) AddRefresher(r Refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshers = append(s.refreshers, r)
}

// RunHalted stops the target, advances the epoch, refreshes every
// registered Refresher in order, runs fn (if non-nil) with the new
// epoch, and resumes the target. The inspection lock is held for the
// whole of the refresh and fn.
//
// A refresher error aborts the cycle: later refreshers and fn do not
// run, and the error is returned. The target is resumed regardless.
func (s *Session) RunHalted(fn func(epoch uint64) error) error {
	if s.halter != nil {
		if err := s.halter.Halt(); err != nil {
			return fmt.Errorf("halting target: %w", err)
		}
		defer func() {
			if err := s.halter.Resume(); err != nil {
				s.logger.Warn("target resume failed", "error", err)
			}
		}()
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	epoch := s.AdvanceEpoch()
	started := s.clk.Now()

	s.mu.Lock()
	refreshers := make([]Refresher, len(s.refreshers))
	copy(refreshers, s.refreshers)
	s.mu.Unlock()

	for _, r := range refreshers {
		if err := r.UpdateMemoryStatus(epoch); err != nil {
			return fmt.Errorf("refresh at epoch %d: %w", epoch, err)
		}
	}

	var err error
	if fn != nil {
		err = fn(epoch)
	}

	s.logger.Debug("halt cycle complete",
		"epoch", epoch,
		"duration", s.clk.Now().Sub(started),
		"refreshers", len(refreshers),
	)
	return err
}

// RunLocked runs fn under the inspection lock without halting or
// refreshing. For callers that know the target is already stopped and
// only need a coherent look at existing state.
func (s *Session) RunLocked(fn func() error) error {
	if fn == nil {
		return errors.New("session: RunLocked requires a function")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn()
}
