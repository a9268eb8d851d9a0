// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// blockingIngest records every payload and holds each transmission
// until release is signalled, so tests can pin a send in flight.
type blockingIngest struct {
	mu       sync.Mutex
	payloads [][]byte
	entered  chan struct{}
	release  chan struct{}
}

func newBlockingIngest() *blockingIngest {
	return &blockingIngest{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (b *blockingIngest) fn(ctx context.Context, chunk []byte) error {
	b.mu.Lock()
	b.payloads = append(b.payloads, append([]byte(nil), chunk...))
	b.mu.Unlock()
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingIngest) got() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.payloads))
	copy(out, b.payloads)
	return out
}

func awaitEntry(t *testing.T, b *blockingIngest) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transmission to start")
	}
}

func TestSenderCoalescesPCMWhileInFlight(t *testing.T) {
	ingest := newBlockingIngest()
	s := newSender(ingest.fn, true, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	s.send(ctx, []byte("aaaa"))
	awaitEntry(t, ingest)

	// These arrive while the first transmission is stalled: they must
	// accumulate, not start a second send.
	s.send(ctx, []byte("bbbb"))
	s.send(ctx, []byte("cccc"))
	if got := ingest.got(); len(got) != 1 {
		t.Fatalf("expected a single in-flight transmission, got %d", len(got))
	}

	close(ingest.release)
	s.send(ctx, []byte("dddd"))
	awaitEntry(t, ingest)
	s.wait()

	got := ingest.got()
	if len(got) != 2 {
		t.Fatalf("expected 2 transmissions, got %d", len(got))
	}
	if !bytes.Equal(got[0], []byte("aaaa")) {
		t.Fatalf("first payload = %q", got[0])
	}
	if !bytes.Equal(got[1], []byte("bbbbccccdddd")) {
		t.Fatalf("coalesced payload = %q", got[1])
	}
}

func TestSenderDropsLateOpusFrames(t *testing.T) {
	ingest := newBlockingIngest()
	s := newSender(ingest.fn, false, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	s.send(ctx, []byte("pkt1"))
	awaitEntry(t, ingest)

	// Opus packets cannot be concatenated; a frame arriving during a
	// stalled send is dropped outright.
	s.send(ctx, []byte("pkt2"))

	close(ingest.release)
	s.send(ctx, []byte("pkt3"))
	awaitEntry(t, ingest)
	s.wait()

	got := ingest.got()
	if len(got) != 2 {
		t.Fatalf("expected 2 transmissions, got %d", len(got))
	}
	if !bytes.Equal(got[0], []byte("pkt1")) || !bytes.Equal(got[1], []byte("pkt3")) {
		t.Fatalf("payloads = %q, %q", got[0], got[1])
	}
}

func TestSenderPendingOverflowDropsOldest(t *testing.T) {
	ingest := newBlockingIngest()
	s := newSender(ingest.fn, true, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	s.send(ctx, []byte{1})
	awaitEntry(t, ingest)

	stale := make([]byte, maxPending)
	s.send(ctx, stale)
	fresh := []byte("fresh")
	s.send(ctx, fresh) // would exceed maxPending, stale audio is discarded

	close(ingest.release)
	s.send(ctx, []byte{2})
	awaitEntry(t, ingest)
	s.wait()

	got := ingest.got()
	if len(got) != 2 {
		t.Fatalf("expected 2 transmissions, got %d", len(got))
	}
	if !bytes.Equal(got[1], append([]byte("fresh"), 2)) {
		t.Fatalf("payload after overflow = %d bytes, want fresh tail", len(got[1]))
	}
}
