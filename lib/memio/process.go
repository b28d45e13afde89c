// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package memio

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/clock"
)

// haltPollInterval is how often Halt re-reads the target's state while
// waiting for the SIGSTOP to take effect, and haltPollLimit bounds the
// wait. A runnable process stops within one scheduler quantum; 100ms
// total covers heavily loaded machines.
const (
	haltPollInterval = time.Millisecond
	haltPollLimit    = 100
)

// ProcessMemory reads a live Linux process's memory through
// process_vm_readv, one syscall per read, without ptrace-attaching.
// It also provides the halt/resume primitives (SIGSTOP/SIGCONT) the
// session uses to freeze the target at an epoch boundary.
//
// Reading another process's memory requires the same permission as
// ptrace attach: same effective UID, or CAP_SYS_PTRACE, subject to the
// kernel's yama/ptrace_scope setting.
type ProcessMemory struct {
	pid int
	clk clock.Clock
}

// AttachProcess verifies that pid names a live, signalable process and
// returns a ProcessMemory for it. clk drives the stop-confirmation
// poll in Halt; nil means the real clock.
func AttachProcess(pid int, clk clock.Clock) (*ProcessMemory, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("attach: invalid pid %d", pid)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if err := unix.Kill(pid, 0); err != nil {
		if err == unix.ESRCH {
			return nil, fmt.Errorf("attach: pid %d: %w", pid, ErrTargetGone)
		}
		return nil, fmt.Errorf("attach: signaling pid %d: %w", pid, err)
	}
	return &ProcessMemory{pid: pid, clk: clk}, nil
}

// PID returns the attached process id.
func (m *ProcessMemory) PID() int {
	return m.pid
}

// Alive reports whether the target process still exists.
func (m *ProcessMemory) Alive() bool {
	return unix.Kill(m.pid, 0) == nil
}

// ReadBytes reads n bytes starting at a from the target's address
// space. A read crossing unmapped memory fails with ErrUnreadable; a
// read from an exited process fails with ErrTargetGone.
func (m *ProcessMemory) ReadBytes(a addr.Address, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read length %d", n)
	}
	if n == 0 {
		return nil, nil
	}

	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(n)
	remote := []unix.RemoteIovec{{Base: uintptr(a), Len: n}}

	read, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		switch err {
		case unix.ESRCH:
			return nil, fmt.Errorf("reading %d bytes at %s from pid %d: %w", n, a, m.pid, ErrTargetGone)
		case unix.EFAULT:
			return nil, fmt.Errorf("reading %d bytes at %s from pid %d: %w", n, a, m.pid, ErrUnreadable)
		case unix.EPERM:
			return nil, fmt.Errorf("reading pid %d: permission denied, check /proc/sys/kernel/yama/ptrace_scope: %w",
				m.pid, ErrUnreadable)
		default:
			return nil, fmt.Errorf("process_vm_readv pid %d at %s: %w", m.pid, a, err)
		}
	}
	if read != n {
		return nil, fmt.Errorf("reading %d bytes at %s from pid %d: got %d: %w", n, a, m.pid, read, ErrShortRead)
	}
	return buf, nil
}

// ReadByte reads the byte at a.
func (m *ProcessMemory) ReadByte(a addr.Address) (byte, error) {
	buf, err := m.ReadBytes(a, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadWord reads the 64-bit little-endian word at a.
func (m *ProcessMemory) ReadWord(a addr.Address) (uint64, error) {
	buf, err := m.ReadBytes(a, WordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Halt sends SIGSTOP and waits until the kernel reports the process
// stopped. Returns ErrTargetGone if the process exits instead.
func (m *ProcessMemory) Halt() error {
	if err := unix.Kill(m.pid, unix.SIGSTOP); err != nil {
		if err == unix.ESRCH {
			return fmt.Errorf("halting pid %d: %w", m.pid, ErrTargetGone)
		}
		return fmt.Errorf("halting pid %d: %w", m.pid, err)
	}

	for i := 0; i < haltPollLimit; i++ {
		state, err := m.state()
		if err != nil {
			return fmt.Errorf("halting pid %d: %w", m.pid, err)
		}
		// T: stopped by signal. t: stopped by a tracer, which freezes
		// the target just as well.
		if state == 'T' || state == 't' {
			return nil
		}
		if state == 'Z' || state == 'X' {
			return fmt.Errorf("halting pid %d: process died while stopping: %w", m.pid, ErrTargetGone)
		}
		m.clk.Sleep(haltPollInterval)
	}
	return fmt.Errorf("halting pid %d: not stopped after %v", m.pid, haltPollLimit*haltPollInterval)
}

// Resume sends SIGCONT. Returns ErrTargetGone if the process has
// exited.
func (m *ProcessMemory) Resume() error {
	if err := unix.Kill(m.pid, unix.SIGCONT); err != nil {
		if err == unix.ESRCH {
			return fmt.Errorf("resuming pid %d: %w", m.pid, ErrTargetGone)
		}
		return fmt.Errorf("resuming pid %d: %w", m.pid, err)
	}
	return nil
}

// state returns the single-character process state from
// /proc/<pid>/stat (R running, S sleeping, T stopped, Z zombie, ...).
func (m *ProcessMemory) state() (byte, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", m.pid))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrTargetGone
		}
		return 0, err
	}
	// The comm field is parenthesized and may itself contain spaces or
	// parentheses; the state char is the first field after the last ')'.
	text := string(data)
	closing := strings.LastIndexByte(text, ')')
	if closing < 0 || closing+2 >= len(text) {
		return 0, fmt.Errorf("malformed /proc/%d/stat", m.pid)
	}
	rest := strings.TrimSpace(text[closing+1:])
	if rest == "" {
		return 0, fmt.Errorf("malformed /proc/%d/stat", m.pid)
	}
	return rest[0], nil
}
