// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides durable, idempotent persistence and ordered
// retrieval of finalized transcript segments.
package store

import (
	"context"

	"github.com/orbitmeet/live_translator/internal/transcript"
)

// Cursor is a pagination watermark. AfterStartMs of -1 is the
// "after nothing" sentinel: list from the beginning.
type Cursor struct {
	AfterStartMs   int64  `json:"after_start_ms"`
	AfterSegmentID string `json:"after_segment_id,omitempty"`
}

// Start returns the sentinel cursor that selects from the beginning.
func Start() Cursor {
	return Cursor{AfterStartMs: -1}
}

// Admits reports whether seg lies strictly after the cursor in the
// (start_ms, segment_id) order.
func (c Cursor) Admits(seg transcript.Segment) bool {
	if c.AfterStartMs < 0 {
		return true
	}
	if seg.StartMs != c.AfterStartMs {
		return seg.StartMs > c.AfterStartMs
	}
	// A start-only cursor admits every id at its watermark: a caller
	// without a tie-break id must re-see segments sharing that start
	// rather than skip them.
	if c.AfterSegmentID == "" {
		return true
	}
	return seg.SegmentID > c.AfterSegmentID
}

// Advance returns the cursor positioned just after seg. Advancing is
// monotonic: a cursor never moves backwards.
func (c Cursor) Advance(seg transcript.Segment) Cursor {
	if c.AfterStartMs > seg.StartMs {
		return c
	}
	if c.AfterStartMs == seg.StartMs && c.AfterSegmentID > seg.SegmentID {
		return c
	}
	return Cursor{AfterStartMs: seg.StartMs, AfterSegmentID: seg.SegmentID}
}

// Store is the transcript store contract. UpsertFinal is an idempotent
// create-or-replace keyed by segment id; ListFinal returns final segments
// for a room ordered by (start_ms asc, segment_id asc), strictly after
// the cursor, capped at limit.
type Store interface {
	UpsertFinal(ctx context.Context, seg transcript.Segment) error
	ListFinal(ctx context.Context, roomID string, after Cursor, limit int) ([]transcript.Segment, error)
}
