// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package journal_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/journal"
	"github.com/heapscope/heapscope/lib/remoteheap"
)

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()

	j, err := journal.Open(journal.Config{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return j
}

// sampleRecord returns a fully populated record for the given epoch.
// Wall times step one second per epoch.
func sampleRecord(epoch uint64) journal.Record {
	base := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	return journal.Record{
		Epoch:    epoch,
		WallTime: base.Add(time.Duration(epoch) * time.Second),

		Phase:           gcphase.Reclaiming,
		CyclesStarted:   3,
		CyclesCompleted: 2,

		Live:        10,
		Unreachable: 2,
		FreeChunks:  4,
		DarkMatter:  1,

		CreatedLive:       3,
		CreatedFree:       1,
		BecameUnreachable: 2,
		DiedUnreachable:   1,

		Duration: 18 * time.Millisecond,
	}
}

func assertRecordEqual(t *testing.T, got, want journal.Record) {
	t.Helper()
	if !got.WallTime.Equal(want.WallTime) {
		t.Errorf("WallTime = %v, want %v", got.WallTime, want.WallTime)
	}
	got.WallTime = want.WallTime
	if got != want {
		t.Errorf("record mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for epoch := uint64(1); epoch <= 5; epoch++ {
		if err := j.Append(ctx, sampleRecord(epoch)); err != nil {
			t.Fatalf("Append epoch %d: %v", epoch, err)
		}
	}

	records, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(records))
	}

	// Newest first.
	for i, wantEpoch := range []uint64{5, 4, 3} {
		if records[i].Epoch != wantEpoch {
			t.Errorf("records[%d].Epoch = %d, want %d", i, records[i].Epoch, wantEpoch)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	want := sampleRecord(7)
	want.CreatedDark = 2
	want.CreatedUnreachable = 1
	want.DiedFree = 3
	want.DiedDark = 1
	want.Evicted = 4
	want.GrayMarks = 1
	want.NoOp = true

	if err := j.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := j.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Recent returned %d records, want 1", len(records))
	}
	assertRecordEqual(t, records[0], want)
}

func TestDuplicateEpochRejected(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, sampleRecord(1)); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := j.Append(ctx, sampleRecord(1)); err == nil {
		t.Fatal("second Append of the same epoch should fail")
	}
}

func TestByCycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// Epochs 1-2 in cycle 3, epoch 3 in cycle 4.
	for epoch := uint64(1); epoch <= 2; epoch++ {
		rec := sampleRecord(epoch)
		rec.CyclesStarted = 3
		if err := j.Append(ctx, rec); err != nil {
			t.Fatalf("Append epoch %d: %v", epoch, err)
		}
	}
	late := sampleRecord(3)
	late.CyclesStarted = 4
	if err := j.Append(ctx, late); err != nil {
		t.Fatalf("Append epoch 3: %v", err)
	}

	records, err := j.ByCycle(ctx, 3)
	if err != nil {
		t.Fatalf("ByCycle: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ByCycle returned %d records, want 2", len(records))
	}

	// Oldest first within the cycle.
	if records[0].Epoch != 1 || records[1].Epoch != 2 {
		t.Errorf("ByCycle order = [%d %d], want [1 2]", records[0].Epoch, records[1].Epoch)
	}

	empty, err := j.ByCycle(ctx, 99)
	if err != nil {
		t.Fatalf("ByCycle(99): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ByCycle(99) returned %d records, want 0", len(empty))
	}
}

func TestPurge(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for epoch := uint64(1); epoch <= 5; epoch++ {
		if err := j.Append(ctx, sampleRecord(epoch)); err != nil {
			t.Fatalf("Append epoch %d: %v", epoch, err)
		}
	}

	// sampleRecord wall times step one second from epoch 1; cut
	// between epochs 3 and 4.
	cutoff := sampleRecord(4).WallTime

	deleted, err := j.Purge(ctx, cutoff)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Purge deleted %d rows, want 3", deleted)
	}

	records, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("after purge: %d records, want 2", len(records))
	}
	if records[0].Epoch != 5 || records[1].Epoch != 4 {
		t.Errorf("surviving epochs = [%d %d], want [5 4]", records[0].Epoch, records[1].Epoch)
	}
}

func TestFromStats(t *testing.T) {
	prev := remoteheap.Stats{
		Passes:            4,
		CreatedLive:       10,
		BecameUnreachable: 3,
		DiedUnreachable:   2,
	}
	cur := remoteheap.Stats{
		Passes:            5,
		Phase:             gcphase.Analyzing,
		CyclesStarted:     2,
		CyclesCompleted:   1,
		Live:              6,
		Unreachable:       1,
		CreatedLive:       12,
		BecameUnreachable: 4,
		DiedUnreachable:   2,
	}

	wallTime := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	rec := journal.FromStats(9, prev, cur, wallTime, 25*time.Millisecond)

	if rec.Epoch != 9 {
		t.Errorf("Epoch = %d, want 9", rec.Epoch)
	}
	if rec.Phase != gcphase.Analyzing {
		t.Errorf("Phase = %s, want ANALYZING", rec.Phase)
	}
	if rec.Live != 6 || rec.Unreachable != 1 {
		t.Errorf("counts = (%d, %d), want (6, 1)", rec.Live, rec.Unreachable)
	}
	if rec.CreatedLive != 2 {
		t.Errorf("CreatedLive = %d, want 2 (delta)", rec.CreatedLive)
	}
	if rec.BecameUnreachable != 1 {
		t.Errorf("BecameUnreachable = %d, want 1 (delta)", rec.BecameUnreachable)
	}
	if rec.DiedUnreachable != 0 {
		t.Errorf("DiedUnreachable = %d, want 0 (delta)", rec.DiedUnreachable)
	}
	if rec.NoOp {
		t.Error("NoOp = true for a halt that applied a pass")
	}

	// A halt that applied no pass leaves Passes unchanged.
	idle := journal.FromStats(10, cur, cur, wallTime, time.Millisecond)
	if !idle.NoOp {
		t.Error("NoOp = false for a halt with no applied pass")
	}
}
