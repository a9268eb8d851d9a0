// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package readaloud

import (
	"context"
	"log/slog"
	"sync"
)

// Sink plays one utterance of PCM to completion. Player implements it;
// tests substitute their own.
type Sink interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// Engine serializes finalized translated text into speech. Utterances
// play strictly in arrival order, one at a time; the call output is
// ducked for the whole speaking run and restored when the queue
// drains.
type Engine struct {
	synth  Synthesizer
	sink   Sink
	ducker *Ducker
	logger *slog.Logger

	mu          sync.Mutex
	queue       []string
	speaking    bool
	utterCancel context.CancelFunc

	wake chan struct{}
}

func NewEngine(synth Synthesizer, sink Sink, ducker *Ducker) *Engine {
	return &Engine{
		synth:  synth,
		sink:   sink,
		ducker: ducker,
		wake:   make(chan struct{}, 1),
		logger: slog.With("component", "readaloud_engine"),
	}
}

// Enqueue appends text to the speech queue. Non-blocking.
func (e *Engine) Enqueue(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, text)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Stop clears the queue and cancels the in-flight utterance
// immediately, forcing a return to idle and releasing ducking.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.queue = nil
	cancel := e.utterCancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.ducker.Release()
}

// Speaking reports whether an utterance is playing or queued.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking || len(e.queue) > 0
}

// Run drains the queue until ctx is cancelled. One drain loop per
// engine; callers start it once.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Debug("drain loop started")
	defer e.logger.Debug("drain loop stopped")
	defer e.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.drain(ctx)
		}
	}
}

func (e *Engine) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || ctx.Err() != nil {
			e.speaking = false
			e.mu.Unlock()
			e.ducker.Release()
			return
		}
		text := e.queue[0]
		e.queue = e.queue[1:]
		e.speaking = true
		utterCtx, cancel := context.WithCancel(ctx)
		e.utterCancel = cancel
		e.mu.Unlock()

		e.ducker.Duck()
		e.speak(utterCtx, text)
		cancel()

		e.mu.Lock()
		e.utterCancel = nil
		e.mu.Unlock()
	}
}

func (e *Engine) speak(ctx context.Context, text string) {
	pcm, rate, err := e.synth.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("synthesis failed, skipping utterance", "error", err)
		}
		return
	}
	if err := e.sink.Play(ctx, pcm, rate); err != nil && ctx.Err() == nil {
		e.logger.Warn("playback failed", "error", err)
	}
}
