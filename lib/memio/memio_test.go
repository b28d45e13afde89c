// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package memio_test

import (
	"errors"
	"testing"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/memio"
)

const base = addr.Address(0x100000)

func testBuffer(t *testing.T) *memio.BufferMemory {
	t.Helper()
	b := memio.NewBuffer(base, 256)
	if err := b.WriteWord(base, 0x1122334455667788); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := b.WriteBytes(base.Plus(8), []byte{0xaa, 0xbb, 0xcc}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	return b
}

func TestBufferReadWord(t *testing.T) {
	b := testBuffer(t)

	word, err := b.ReadWord(base)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if word != 0x1122334455667788 {
		t.Errorf("ReadWord = %#x, want 0x1122334455667788", word)
	}

	// Little-endian: the low byte sits at the low address.
	first, err := b.ReadByte(base)
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if first != 0x88 {
		t.Errorf("ReadByte = %#x, want 0x88", first)
	}
}

func TestBufferReadBytes(t *testing.T) {
	b := testBuffer(t)

	got, err := b.ReadBytes(base.Plus(8), 3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	want := []byte{0xaa, 0xbb, 0xcc}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ReadBytes[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}

	// The result is a copy: mutating the buffer afterward must not
	// change bytes already handed out.
	if err := b.WriteBytes(base.Plus(8), []byte{0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if got[0] != 0xaa {
		t.Error("ReadBytes result aliases the buffer")
	}
}

func TestBufferBounds(t *testing.T) {
	b := testBuffer(t)

	cases := []struct {
		name string
		a    addr.Address
		n    int
	}{
		{"below base", base - 1, 1},
		{"past end", base.Plus(256), 1},
		{"straddles end", base.Plus(250), 16},
	}
	for _, c := range cases {
		_, err := b.ReadBytes(c.a, c.n)
		if !errors.Is(err, memio.ErrUnreadable) {
			t.Errorf("%s: err = %v, want ErrUnreadable", c.name, err)
		}
	}

	if _, err := b.ReadBytes(base, -1); err == nil {
		t.Error("negative length accepted")
	}
}

func TestBufferFillWords(t *testing.T) {
	b := memio.NewBuffer(base, 64)
	if err := b.FillWords(base, 4, 0xdeaddeaddeaddead); err != nil {
		t.Fatalf("FillWords: %v", err)
	}
	for i := 0; i < 4; i++ {
		word, err := b.ReadWord(base.Plus(uint64(i * memio.WordSize)))
		if err != nil {
			t.Fatalf("ReadWord word %d: %v", i, err)
		}
		if word != 0xdeaddeaddeaddead {
			t.Errorf("word %d = %#x, want zap pattern", i, word)
		}
	}
}

func TestAttachRejectsBadPID(t *testing.T) {
	if _, err := memio.AttachProcess(0, nil); err == nil {
		t.Error("pid 0 accepted")
	}
	if _, err := memio.AttachProcess(-7, nil); err == nil {
		t.Error("negative pid accepted")
	}
}
