// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package broadcast is the room-scoped low-latency event channel the
// caption aggregator listens on. Delivery is best effort with no
// persistence; missed events are recovered through the transcript
// store's poll path.
package broadcast

import (
	"log/slog"
	"sync"
)

// Event is an opaque room broadcast payload. Segment events carry a
// transcript.Segment; notices carry an stt.Notice.
type Event struct {
	Room    string
	Payload any
}

// Channel publishes events to every current subscriber.
type Channel interface {
	Publish(ev Event)
	// Subscribe returns a receive channel and a cancel func. Cancel is
	// idempotent and must be called when the subscriber goes away.
	Subscribe() (<-chan Event, func())
}

const subscriberBuffer = 64

// Hub is the in-process Channel used by the listener client and tests.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[int]chan Event),
		logger: slog.With("component", "broadcast_hub"),
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber channel full, dropping event", "subscriber", id)
		}
	}
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
