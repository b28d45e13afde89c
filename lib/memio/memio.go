// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package memio provides byte-exact read access to an inspected
// process's memory.
//
// All reads are exact: a read that cannot deliver every requested byte
// fails, it never returns a prefix. Words are 64-bit little-endian,
// matching the only target class heapscope supports.
//
// Two implementations are provided: ProcessMemory reads a live Linux
// process via process_vm_readv, and BufferMemory serves a byte slice
// at a fixed base address for the simulated heap and for tests.
package memio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
)

// WordSize is the size in bytes of a target machine word.
const WordSize = 8

// Sentinel errors. Callers distinguish target death from a merely
// unreadable address with errors.Is.
var (
	// ErrUnreadable wraps reads of addresses the target has not
	// mapped readable.
	ErrUnreadable = errors.New("memory not readable")

	// ErrShortRead wraps reads that delivered fewer bytes than
	// requested. The partial bytes are discarded.
	ErrShortRead = errors.New("short read from target memory")

	// ErrTargetGone wraps any operation against a process that has
	// exited.
	ErrTargetGone = errors.New("target process is gone")
)

// Reader is the read-side interface to target memory. Implementations
// must be byte-exact: every method either delivers all requested bytes
// or returns an error.
type Reader interface {
	// ReadByte reads the byte at a.
	ReadByte(a addr.Address) (byte, error)

	// ReadWord reads the 64-bit little-endian word at a.
	ReadWord(a addr.Address) (uint64, error)

	// ReadBytes reads n bytes starting at a.
	ReadBytes(a addr.Address, n int) ([]byte, error)
}

// BufferMemory serves reads from an in-memory byte slice mapped at a
// fixed base address. The write methods exist for simulation and test
// setup; they are not part of Reader.
type BufferMemory struct {
	base addr.Address
	data []byte
}

// NewBuffer creates a BufferMemory covering [base, base+size).
func NewBuffer(base addr.Address, size uint64) *BufferMemory {
	return &BufferMemory{
		base: base,
		data: make([]byte, size),
	}
}

// Base returns the first covered address.
func (b *BufferMemory) Base() addr.Address {
	return b.base
}

// Size returns the number of covered bytes.
func (b *BufferMemory) Size() uint64 {
	return uint64(len(b.data))
}

// slice bounds-checks [a, a+n) and returns the backing subslice.
func (b *BufferMemory) slice(a addr.Address, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read length %d", n)
	}
	if a < b.base {
		return nil, fmt.Errorf("reading %d bytes at %s (below base %s): %w", n, a, b.base, ErrUnreadable)
	}
	offset := a.Diff(b.base)
	if offset+uint64(n) > uint64(len(b.data)) {
		return nil, fmt.Errorf("reading %d bytes at %s (past end %s): %w", n, a, b.base.Plus(uint64(len(b.data))), ErrUnreadable)
	}
	return b.data[offset : offset+uint64(n)], nil
}

// ReadByte reads the byte at a.
func (b *BufferMemory) ReadByte(a addr.Address) (byte, error) {
	s, err := b.slice(a, 1)
	if err != nil {
		return 0, err
	}
	return s[0], nil
}

// ReadWord reads the 64-bit little-endian word at a.
func (b *BufferMemory) ReadWord(a addr.Address) (uint64, error) {
	s, err := b.slice(a, WordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s), nil
}

// ReadBytes reads n bytes starting at a. The result is a copy; later
// writes to the buffer do not change it.
func (b *BufferMemory) ReadBytes(a addr.Address, n int) ([]byte, error) {
	s, err := b.slice(a, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s)
	return out, nil
}

// WriteWord stores a 64-bit little-endian word at a.
func (b *BufferMemory) WriteWord(a addr.Address, v uint64) error {
	s, err := b.slice(a, WordSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(s, v)
	return nil
}

// WriteBytes copies p into the buffer starting at a.
func (b *BufferMemory) WriteBytes(a addr.Address, p []byte) error {
	s, err := b.slice(a, len(p))
	if err != nil {
		return err
	}
	copy(s, p)
	return nil
}

// Fill sets n bytes starting at a to value.
func (b *BufferMemory) Fill(a addr.Address, n int, value byte) error {
	s, err := b.slice(a, n)
	if err != nil {
		return err
	}
	for i := range s {
		s[i] = value
	}
	return nil
}

// FillWords stores count copies of the word value starting at a.
func (b *BufferMemory) FillWords(a addr.Address, count int, value uint64) error {
	for i := 0; i < count; i++ {
		if err := b.WriteWord(a.Plus(uint64(i*WordSize)), value); err != nil {
			return err
		}
	}
	return nil
}
