// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/orbitmeet/live_translator/internal/transcript"
)

func seg(room, id string, startMs int64, final bool, text string) transcript.Segment {
	return transcript.Segment{
		Type:       transcript.EventType,
		RoomID:     room,
		TrackID:    "mic",
		SpeakerID:  "alice",
		SegmentID:  id,
		StartMs:    startMs,
		EndMs:      startMs + 500,
		IsFinal:    final,
		SourceLang: "en-US",
		Text:       text,
	}
}

func TestUpsertFinalIsIdempotent(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	s := seg("r1", "s1", 0, true, "hello")
	for i := 0; i < 3; i++ {
		if err := st.UpsertFinal(ctx, s); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	if st.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", st.Len())
	}
	items, err := st.ListFinal(ctx, "r1", Start(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Text != "hello" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestUpsertFinalKeepsFinalityMonotonic(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if err := st.UpsertFinal(ctx, seg("r1", "s1", 100, true, "hello")); err != nil {
		t.Fatalf("upsert final: %v", err)
	}
	// A late interim revision must not demote the final or move its
	// start backwards.
	if err := st.UpsertFinal(ctx, seg("r1", "s1", 50, false, "hell")); err != nil {
		t.Fatalf("upsert interim: %v", err)
	}

	items, err := st.ListFinal(ctx, "r1", Start(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected the row to stay final, got %d items", len(items))
	}
	if !items[0].IsFinal || items[0].StartMs != 100 {
		t.Fatalf("unexpected row: %+v", items[0])
	}
}

func TestUpsertFinalRejectsInvalidSegment(t *testing.T) {
	st := NewMemoryStore()
	bad := seg("r1", "s1", 0, true, "hello")
	bad.Text = ""
	if err := st.UpsertFinal(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestListFinalPaginatesDisjointWindows(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		s := seg("r1", fmt.Sprintf("s%d", i), int64(i*100), true, "text")
		if err := st.UpsertFinal(ctx, s); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	// Same start, distinct ids; the tie-break must keep them ordered.
	if err := st.UpsertFinal(ctx, seg("r1", "tie_b", 700, true, "b")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertFinal(ctx, seg("r1", "tie_a", 700, true, "a")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cursor := Start()
	var collected []transcript.Segment
	for {
		page, err := st.ListFinal(ctx, "r1", cursor, 3)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 3 {
			t.Fatalf("page exceeds limit: %d", len(page))
		}
		for _, item := range page {
			if !cursor.Admits(item) {
				t.Fatalf("item at or before cursor: %+v", item)
			}
			collected = append(collected, item)
			cursor = cursor.Advance(item)
		}
	}

	if len(collected) != 9 {
		t.Fatalf("expected 9 items across pages, got %d", len(collected))
	}
	for i := 1; i < len(collected); i++ {
		if !collected[i-1].Before(collected[i]) {
			t.Fatalf("order violated at %d: %+v then %+v", i, collected[i-1], collected[i])
		}
	}
}

func TestListFinalSkipsOtherRoomsAndInterims(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.UpsertFinal(ctx, seg("r1", "a", 0, true, "keep"))
	st.UpsertFinal(ctx, seg("r2", "b", 0, true, "other room"))
	st.UpsertFinal(ctx, seg("r1", "c", 100, false, "interim"))

	items, err := st.ListFinal(ctx, "r1", Start(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].SegmentID != "a" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestCursorAdvanceIsMonotonic(t *testing.T) {
	c := Start()
	c = c.Advance(transcript.Segment{StartMs: 500, SegmentID: "x"})
	moved := c.Advance(transcript.Segment{StartMs: 100, SegmentID: "y"})
	if moved != c {
		t.Fatalf("cursor moved backwards: %+v", moved)
	}
	same := c.Advance(transcript.Segment{StartMs: 500, SegmentID: "a"})
	if same != c {
		t.Fatalf("cursor moved backwards on id tie: %+v", same)
	}
}

func TestStartOnlyCursorAdmitsSharedStart(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.UpsertFinal(ctx, seg("r1", "a", 500, true, "first"))
	st.UpsertFinal(ctx, seg("r1", "b", 500, true, "second"))

	// Without a tie-break id, everything at the watermark start is
	// re-delivered rather than skipped.
	items, err := st.ListFinal(ctx, "r1", Cursor{AfterStartMs: 500}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].SegmentID != "a" || items[1].SegmentID != "b" {
		t.Fatalf("start-only cursor skipped tied segments: %+v", items)
	}

	// With the tie-break id the cursor stays strict.
	items, err = st.ListFinal(ctx, "r1", Cursor{AfterStartMs: 500, AfterSegmentID: "a"}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].SegmentID != "b" {
		t.Fatalf("tie-break cursor: %+v", items)
	}
}
