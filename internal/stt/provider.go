// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stt owns the live speech-to-text sessions: one provider
// connection per session, normalization of provider output into
// transcript segments, durable persistence of finals and fan-out of
// every segment to attached listeners.
package stt

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("stt provider unavailable")
	ErrSessionCreateFailed = errors.New("session create failed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrEmptyAudio          = errors.New("empty audio chunk")
)

type EventKind int

const (
	EventOpen EventKind = iota
	EventTranscript
	EventError
	EventClose
)

// Word is one recognized word with its optional diarized speaker tag.
type Word struct {
	Text    string
	Speaker *int
}

// Result is a normalized transcript event from a provider: the top
// alternative's text plus timing in seconds relative to session start.
type Result struct {
	Text          string
	Confidence    *float64
	StartSec      float64
	DurationSec   float64
	IsFinal       bool
	SpeechStarted bool
	Words         []Word
}

// Event is one item of a provider connection's event stream.
type Event struct {
	Kind   EventKind
	Result *Result
	Err    error
}

// OpenConfig configures a provider connection for one session.
type OpenConfig struct {
	Language   string // BCP-47 tag, or "auto" for multi-language mode
	Model      string
	SampleRate int // for raw PCM input; 0 when the payload is self-describing
}

// LiveConnection is the capability surface the session manager needs
// from a provider: push audio in, receive events out, close. The events
// channel is closed when the connection terminates.
type LiveConnection interface {
	Send(audio []byte) error
	Events() <-chan Event
	Close() error
}

// Provider opens live connections. Swapping speech-to-text vendors is
// an adapter implementation, not a rewrite.
type Provider interface {
	Name() string
	Open(ctx context.Context, cfg OpenConfig) (LiveConnection, error)
}
