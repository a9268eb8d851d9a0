// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/orbitmeet/live_translator/internal/constants"
	"github.com/orbitmeet/live_translator/internal/stt"
)

// maxChunksBeforeForceFinalize forces a FinalResult() call after this
// many chunks without a natural final, bounding recognizer-side memory.
const maxChunksBeforeForceFinalize = 500

type voskResult struct {
	Partial string `json:"partial,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Provider runs recognition locally. It implements the same capability
// interface as the cloud adapters, so the session manager cannot tell
// the difference.
type Provider struct {
	models *ModelManager
	logger *slog.Logger
}

func NewProvider(modelDir string) *Provider {
	return &Provider{
		models: NewModelManager(modelDir),
		logger: slog.With("component", "vosk_provider"),
	}
}

func (p *Provider) Name() string { return "vosk" }

func (p *Provider) Open(_ context.Context, cfg stt.OpenConfig) (stt.LiveConnection, error) {
	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = "en"
	}

	model, err := p.models.GetModel(lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stt.ErrProviderUnavailable, err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = constants.TargetSampleRate
	}

	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		p.models.ReleaseModel(lang)
		return nil, fmt.Errorf("%w: %v", stt.ErrSessionCreateFailed, err)
	}
	rec.SetWords(0)

	c := &conn{
		provider:   p,
		rec:        rec,
		model:      model,
		lang:       lang,
		sampleRate: sampleRate,
		events:     make(chan stt.Event, constants.ProviderEventBuffer),
		logger:     p.logger.With("lang", lang),
	}
	c.emit(stt.Event{Kind: stt.EventOpen})
	return c, nil
}

type conn struct {
	provider   *Provider
	mu         sync.Mutex
	rec        *vosk.VoskRecognizer
	model      *vosk.VoskModel
	lang       string
	sampleRate int

	samplesFed      int64
	segStartSamples int64
	chunksSinceF    int

	events chan stt.Event
	closed bool
	logger *slog.Logger
}

func (c *conn) Events() <-chan stt.Event { return c.events }

// Send feeds one chunk of 16-bit little-endian PCM. Segment timing is
// derived from the sample counter, since the recognizer itself reports
// no offsets in this mode.
func (c *conn) Send(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.rec == nil {
		return fmt.Errorf("recognizer closed")
	}

	c.samplesFed += int64(len(audio) / 2)
	c.chunksSinceF++

	if c.rec.AcceptWaveform(audio) != 0 {
		c.emitResult(c.rec.Result(), true)
		c.chunksSinceF = 0
	} else if c.chunksSinceF >= maxChunksBeforeForceFinalize {
		c.emitResult(c.rec.FinalResult(), true)
		c.chunksSinceF = 0
		c.resetRecognizer()
	} else {
		c.emitResult(c.rec.PartialResult(), false)
	}
	return nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.rec != nil {
		c.rec.Free()
		c.rec = nil
	}
	c.provider.models.ReleaseModel(c.lang)

	c.emit(stt.Event{Kind: stt.EventClose})
	close(c.events)
	return nil
}

// Must be called with c.mu held.
func (c *conn) emitResult(resultJSON string, isFinal bool) {
	var result voskResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return
	}

	text := result.Partial
	if isFinal {
		text = result.Text
	}
	if text == "" || text == "the" {
		return
	}

	startSec := float64(c.segStartSamples) / float64(c.sampleRate)
	endSec := float64(c.samplesFed) / float64(c.sampleRate)

	c.emit(stt.Event{Kind: stt.EventTranscript, Result: &stt.Result{
		Text:        text,
		StartSec:    startSec,
		DurationSec: endSec - startSec,
		IsFinal:     isFinal,
	}})

	if isFinal {
		c.segStartSamples = c.samplesFed
	}
}

// Must be called with c.mu held.
func (c *conn) resetRecognizer() {
	if c.rec != nil {
		c.rec.Free()
	}
	newRec, err := vosk.NewRecognizer(c.model, float64(c.sampleRate))
	if err != nil {
		c.logger.Error("failed to recreate recognizer", "error", err)
		c.rec = nil
		return
	}
	newRec.SetWords(0)
	c.rec = newRec
}

func (c *conn) emit(ev stt.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping")
	}
}
