// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript holds the transcript segment model shared by the
// session manager, the durable store and the caption aggregator.
package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// EventType is the wire tag carried by segment payloads on the room
// broadcast channel and the durable append endpoint.
const EventType = "stt.segment"

var ErrInvalidPayload = errors.New("invalid_payload")

// Segment is one utterance fragment. SegmentID is stable across the
// interim-to-final revisions of the same utterance; a final revision is
// the last write for that id.
type Segment struct {
	Type       string   `json:"type"`
	RoomID     string   `json:"room_id"`
	TrackID    string   `json:"track_id"`
	SpeakerID  string   `json:"speaker_id"`
	SegmentID  string   `json:"segment_id"`
	StartMs    int64    `json:"start_ms"`
	EndMs      int64    `json:"end_ms"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float64 `json:"confidence,omitempty"`
	SourceLang string   `json:"source_lang"`
	Text       string   `json:"text"`
}

// Validate checks that every required field is present and well formed.
// Used by the durable append endpoint before accepting a payload.
func (s Segment) Validate() error {
	if s.Type != EventType {
		return fmt.Errorf("%w: type must be %q", ErrInvalidPayload, EventType)
	}
	for field, v := range map[string]string{
		"room_id":     s.RoomID,
		"track_id":    s.TrackID,
		"speaker_id":  s.SpeakerID,
		"segment_id":  s.SegmentID,
		"source_lang": s.SourceLang,
		"text":        s.Text,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
		}
	}
	if s.StartMs < 0 {
		return fmt.Errorf("%w: start_ms must be non-negative", ErrInvalidPayload)
	}
	if s.EndMs < s.StartMs {
		return fmt.Errorf("%w: end_ms must not precede start_ms", ErrInvalidPayload)
	}
	return nil
}

// Before reports whether s sorts strictly before other in the
// (start_ms, segment_id) total order used for pagination.
func (s Segment) Before(other Segment) bool {
	if s.StartMs != other.StartMs {
		return s.StartMs < other.StartMs
	}
	return s.SegmentID < other.SegmentID
}
