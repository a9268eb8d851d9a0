// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/orbitmeet/live_translator/internal/constants"
	"github.com/orbitmeet/live_translator/internal/transcript"
)

// MemoryStore keeps finalized segments in process memory. It is the
// default when no external store is configured, and the fixture for
// tests. Writes are last-write-wins per segment id.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]transcript.Segment // keyed by segment id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]transcript.Segment)}
}

func (m *MemoryStore) UpsertFinal(_ context.Context, seg transcript.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.rows[seg.SegmentID]; ok {
		// Finality is monotonic; an interim revision never demotes a
		// stored final, and start_ms never moves backwards.
		if prev.IsFinal && !seg.IsFinal {
			seg.IsFinal = true
		}
		if seg.StartMs < prev.StartMs {
			seg.StartMs = prev.StartMs
		}
	}
	m.rows[seg.SegmentID] = seg
	return nil
}

func (m *MemoryStore) ListFinal(_ context.Context, roomID string, after Cursor, limit int) ([]transcript.Segment, error) {
	limit = clampLimit(limit)

	m.mu.Lock()
	matched := make([]transcript.Segment, 0, len(m.rows))
	for _, seg := range m.rows {
		if seg.RoomID != roomID || !seg.IsFinal {
			continue
		}
		if !after.Admits(seg) {
			continue
		}
		matched = append(matched, seg)
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Before(matched[j]) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len reports the number of stored rows. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.ListLimitDefault
	}
	if limit > constants.ListLimitMax {
		return constants.ListLimitMax
	}
	return limit
}
