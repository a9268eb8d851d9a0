// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package captions

import (
	"context"
	"log/slog"
	"time"

	"github.com/orbitmeet/live_translator/internal/constants"
	"github.com/orbitmeet/live_translator/internal/store"
)

// Poller is the durable delivery path: it fetches finalized segments
// after a persisted cursor and feeds them to the aggregator. It covers
// listeners that need read-aloud independent of live delivery, and
// backfills anything the broadcast channel dropped.
type Poller struct {
	store      store.Store
	agg        *Aggregator
	roomID     string
	targetLang string
	cursorDir  string

	cursor store.Cursor
	logger *slog.Logger

	fallbackNoticed bool
}

func NewPoller(st store.Store, agg *Aggregator, roomID, targetLang, cursorDir string) *Poller {
	return &Poller{
		store:      st,
		agg:        agg,
		roomID:     roomID,
		targetLang: targetLang,
		cursorDir:  cursorDir,
		cursor:     LoadCursor(cursorDir, roomID, targetLang),
		logger:     slog.With("component", "caption_poller", "room_id", roomID),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug("poller started", "after_start_ms", p.cursor.AfterStartMs)
	defer p.logger.Debug("poller stopped")

	if p.agg.speech == nil && !p.fallbackNoticed {
		p.fallbackNoticed = true
		p.logger.Warn("no playback backend wired, read-aloud text is dropped")
	}

	ticker := time.NewTicker(constants.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick fetches one page. The cursor advances per fetched item even
// when translation falls back, so a flaky translator never stalls the
// stream.
func (p *Poller) tick(ctx context.Context) {
	items, err := p.store.ListFinal(ctx, p.roomID, p.cursor, constants.PollPageLimit)
	if err != nil {
		p.logger.Warn("poll fetch failed", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	for _, seg := range items {
		p.agg.Observe(ctx, seg)
		p.cursor = p.cursor.Advance(seg)
	}

	if err := SaveCursor(p.cursorDir, p.roomID, p.targetLang, p.cursor); err != nil {
		p.logger.Warn("failed to persist cursor", "error", err)
	}
}
