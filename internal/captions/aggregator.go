// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package captions merges segments from the live broadcast channel and
// the durable poll path into one translated rolling caption window.
package captions

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orbitmeet/live_translator/internal/constants"
	"github.com/orbitmeet/live_translator/internal/settings"
	"github.com/orbitmeet/live_translator/internal/transcript"
	"github.com/orbitmeet/live_translator/internal/translation"
)

// Speech receives finalized translated text for read-aloud.
type Speech interface {
	Enqueue(text string)
}

// Caption is one entry of the rolling window.
type Caption struct {
	SegmentID string
	StartMs   int64
	Text      string
	IsFinal   bool
}

// Aggregator is the merge-by-key reducer both delivery paths feed.
// All mutation goes through Observe, which serializes the live and
// poll goroutines internally.
type Aggregator struct {
	mu sync.Mutex

	settings   settings.TranslatorSettings
	translator translation.Translator
	speech     Speech

	// translate cache keyed segment_id + "\x00" + target_lang.
	// Populated only on successful translation so a failed pair is
	// retried on the next observation.
	cache    map[string]cacheEntry
	captions map[string]Caption

	lastInterimID string
	lastInterimAt time.Time

	logger *slog.Logger
}

func NewAggregator(cfg settings.TranslatorSettings, tr translation.Translator, speech Speech) *Aggregator {
	cfg.Normalize()
	return &Aggregator{
		settings:   cfg,
		translator: tr,
		speech:     speech,
		cache:      make(map[string]cacheEntry),
		captions:   make(map[string]Caption),
		logger:     slog.With("component", "caption_aggregator"),
	}
}

// Observe folds one segment revision into the window. Interim
// revisions of the segment currently being spoken are throttled so the
// overlay does not flicker on every provider tick.
func (a *Aggregator) Observe(ctx context.Context, seg transcript.Segment) {
	if !a.settings.CaptionsEnabled && !a.settings.ReadAloudEnabled {
		return
	}
	if strings.TrimSpace(seg.Text) == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !seg.IsFinal {
		if seg.SegmentID == a.lastInterimID && time.Since(a.lastInterimAt) < constants.MinInterimGap {
			return
		}
		a.lastInterimID = seg.SegmentID
		a.lastInterimAt = time.Now()
	}

	text := a.translateLocked(ctx, seg)

	a.captions[seg.SegmentID] = Caption{
		SegmentID: seg.SegmentID,
		StartMs:   seg.StartMs,
		Text:      text,
		IsFinal:   seg.IsFinal,
	}
	a.evictLocked()

	if seg.IsFinal && a.settings.ReadAloudEnabled && a.speech != nil {
		a.speech.Enqueue(text)
	}
}

// translateLocked resolves the display text for seg, cache first. A
// failed translation shows the original text and caches nothing.
func (a *Aggregator) translateLocked(ctx context.Context, seg transcript.Segment) string {
	target := a.settings.TargetLang
	if target == "" || langBase(target) == langBase(seg.SourceLang) {
		return seg.Text
	}

	key := seg.SegmentID + "\x00" + target
	// Interim text keeps changing under the same id, so a cache hit
	// counts only when the source text still matches.
	if cached, ok := a.cache[key]; ok && cached.source == seg.Text {
		return cached.translated
	}

	translated, err := a.translator.Translate(ctx, seg.Text, seg.SourceLang, target)
	if err != nil {
		a.logger.Warn("translation failed, showing original text",
			"segment_id", seg.SegmentID, "error", err)
		return seg.Text
	}
	a.cache[key] = cacheEntry{source: seg.Text, translated: translated}
	return translated
}

type cacheEntry struct {
	source     string
	translated string
}

// evictLocked trims the window to the most recent distinct segment
// ids by start time.
func (a *Aggregator) evictLocked() {
	for len(a.captions) > constants.CaptionWindowSize {
		oldestID := ""
		for id, c := range a.captions {
			if oldestID == "" {
				oldestID = id
				continue
			}
			o := a.captions[oldestID]
			if c.StartMs < o.StartMs || (c.StartMs == o.StartMs && id < oldestID) {
				oldestID = id
			}
		}
		delete(a.captions, oldestID)
	}
}

// Window returns the current captions ordered by start time.
func (a *Aggregator) Window() []Caption {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Caption, 0, len(a.captions))
	for _, c := range a.captions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMs != out[j].StartMs {
			return out[i].StartMs < out[j].StartMs
		}
		return out[i].SegmentID < out[j].SegmentID
	})
	return out
}

// Display renders the overlay line: the recent finals followed by the
// current interim, trimmed from the front at a word boundary.
func (a *Aggregator) Display() string {
	parts := make([]string, 0, constants.CaptionWindowSize)
	for _, c := range a.Window() {
		parts = append(parts, c.Text)
	}
	return trimFront(strings.Join(parts, " "), constants.CaptionCharBudget)
}

// trimFront drops leading words until the line fits budget. Words are
// never split mid-word.
func trimFront(line string, budget int) string {
	if len(line) <= budget {
		return line
	}
	for len(line) > budget {
		cut := strings.IndexByte(line, ' ')
		if cut < 0 {
			// One oversized word; show its tail rather than nothing.
			return line[len(line)-budget:]
		}
		line = line[cut+1:]
	}
	return line
}

func langBase(lang string) string {
	if i := strings.IndexByte(lang, '-'); i >= 0 {
		return strings.ToLower(lang[:i])
	}
	return strings.ToLower(lang)
}
