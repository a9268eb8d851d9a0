// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package stt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/orbitmeet/live_translator/internal/constants"
	"github.com/orbitmeet/live_translator/internal/store"
	"github.com/orbitmeet/live_translator/internal/transcript"
)

// Notice is a non-segment push event delivered to attached listeners.
type Notice struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// Listener is one fan-out target of a session's push channel.
type Listener struct {
	ch     chan any
	closed bool // guarded by the owning session's mu
}

// Events yields push payloads: transcript.Segment values and Notices.
// The channel is closed when the listener is detached or the session
// terminates.
func (l *Listener) Events() <-chan any { return l.ch }

// Session is one live provider connection with its fan-out state.
type Session struct {
	ID         string
	RoomID     string
	SpeakerID  string
	TrackID    string
	SourceLang string
	Model      string
	CreatedAt  time.Time

	conn      LiveConnection
	provider  string
	streamURL string
	cancel    context.CancelFunc

	seq    atomic.Int64
	closed atomic.Bool

	persistErrNotified atomic.Bool

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	opusDec   *opus.Decoder

	logger *slog.Logger
}

// CreateParams describes a session-create request.
type CreateParams struct {
	RoomID     string
	SpeakerID  string
	SourceLang string
	TrackID    string
	Model      string
	StreamURL  string
}

// Manager owns the process-wide session registry. Entries are created
// on explicit request and removed on close; a session id is never
// reused.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	provider Provider
	store    store.Store
	logger   *slog.Logger
}

func NewManager(provider Provider, st store.Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		provider: provider,
		store:    st,
		logger:   slog.With("component", "stt_manager"),
	}
}

// Create opens exactly one provider connection for a new session and
// returns its id.
func (m *Manager) Create(ctx context.Context, params CreateParams) (string, error) {
	sourceLang := params.SourceLang
	if sourceLang == "" {
		sourceLang = "auto"
	}
	trackID := params.TrackID
	if trackID == "" {
		trackID = "mic"
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	// Pushed chunks and RTP pulls arrive as 16 kHz PCM (opus payloads
	// are decoded first); pulled HTTP streams are self-describing.
	sampleRate := constants.TargetSampleRate
	if params.StreamURL != "" && !strings.HasPrefix(params.StreamURL, "rtp://") {
		sampleRate = 0
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, constants.ProviderDialTimeout)
	conn, err := m.provider.Open(dialCtx, OpenConfig{
		Language:   sourceLang,
		Model:      params.Model,
		SampleRate: sampleRate,
	})
	dialCancel()
	if err != nil {
		cancel()
		return "", err
	}

	s := &Session{
		ID:         uuid.NewString(),
		RoomID:     params.RoomID,
		SpeakerID:  params.SpeakerID,
		TrackID:    trackID,
		SourceLang: sourceLang,
		Model:      params.Model,
		CreatedAt:  time.Now(),
		conn:       conn,
		provider:   m.provider.Name(),
		streamURL:  params.StreamURL,
		cancel:     cancel,
		listeners:  make(map[*Listener]struct{}),
	}
	s.logger = slog.With("component", "stt_session", "session_id", s.ID, "room_id", s.RoomID)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go m.runSession(sessionCtx, s)

	s.logger.Info("session created",
		"speaker_id", s.SpeakerID,
		"source_lang", s.SourceLang,
		"provider", s.provider,
	)
	return s.ID, nil
}

// Ingest forwards an encoded audio chunk to the session's provider
// connection. Chunks flagged as opus are decoded to 16-bit PCM first.
func (m *Manager) Ingest(sessionID string, chunk []byte, opusEncoded bool) error {
	if len(chunk) == 0 {
		return ErrEmptyAudio
	}

	s := m.lookup(sessionID)
	if s == nil || s.closed.Load() {
		return ErrSessionNotFound
	}

	if opusEncoded {
		pcm, err := s.decodeOpus(chunk)
		if err != nil {
			return fmt.Errorf("opus decode: %w", err)
		}
		chunk = pcm
	}

	if err := s.conn.Send(chunk); err != nil {
		return fmt.Errorf("forwarding audio: %w", err)
	}
	return nil
}

// Attach registers a new fan-out target and immediately emits a
// synthetic hello event so the listener can confirm a live channel.
// Returns nil if the session is unknown or closed.
func (m *Manager) Attach(sessionID string) *Listener {
	s := m.lookup(sessionID)
	if s == nil || s.closed.Load() {
		return nil
	}

	l := &Listener{ch: make(chan any, constants.ListenerEventBuffer)}

	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.sendLocked(l, Notice{Type: "stt.hello", SessionID: s.ID})
	s.mu.Unlock()

	return l
}

// Detach removes a listener. Idempotent; no error if already removed.
func (m *Manager) Detach(sessionID string, l *Listener) {
	if l == nil {
		return
	}
	s := m.lookup(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.listeners[l]; ok {
		delete(s.listeners, l)
		l.closed = true
		close(l.ch)
	}
	s.mu.Unlock()
}

// Close tears a session down: marks it closed, aborts any upstream
// pull, disconnects the provider and drops the registry entry. Safe to
// call multiple times or concurrently with provider-initiated close.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.shutdown()
}

// Shutdown closes every active session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		remaining = append(remaining, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range remaining {
		s.shutdown()
	}
	m.logger.Info("all sessions closed")
}

func (m *Manager) lookup(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (s *Session) shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	_ = s.conn.Close()

	s.mu.Lock()
	for l := range s.listeners {
		delete(s.listeners, l)
		l.closed = true
		close(l.ch)
	}
	s.mu.Unlock()

	s.logger.Info("session closed")
}

// runSession consumes provider events for the life of one session.
// It is the only goroutine that broadcasts transcript events, so
// listener delivery order matches provider emission order.
func (m *Manager) runSession(ctx context.Context, s *Session) {
	s.logger.Debug("session event loop started")
	defer s.logger.Debug("session event loop stopped")

	for ev := range s.conn.Events() {
		if s.closed.Load() {
			continue // drain remaining events after close
		}

		switch ev.Kind {
		case EventOpen:
			s.broadcast(Notice{Type: "stt.open", SessionID: s.ID})
			if s.streamURL != "" {
				go m.pullUpstream(ctx, s)
			}

		case EventTranscript:
			m.handleTranscript(ctx, s, ev.Result)

		case EventError:
			s.logger.Error("provider error", "error", ev.Err)
			s.broadcast(Notice{Type: "stt.error", SessionID: s.ID, Message: ev.Err.Error()})
			m.Close(s.ID)

		case EventClose:
			s.broadcast(Notice{Type: "stt.close", SessionID: s.ID})
			m.Close(s.ID)
		}
	}
}

func (m *Manager) handleTranscript(ctx context.Context, s *Session, res *Result) {
	if res == nil || res.SpeechStarted {
		return
	}
	seg, ok := s.segmentFromResult(res)
	if !ok {
		return
	}
	s.seq.Add(1)

	if seg.IsFinal {
		persistCtx, cancel := context.WithTimeout(ctx, constants.SendTimeout)
		err := m.store.UpsertFinal(persistCtx, seg)
		cancel()
		if err != nil {
			s.logger.Error("persisting final segment failed", "error", err, "segment_id", seg.SegmentID)
			// At most one user-visible notice per session; storage being
			// down must not turn into a fan-out storm.
			if s.persistErrNotified.CompareAndSwap(false, true) {
				s.broadcast(Notice{Type: "stt.persist_error", SessionID: s.ID, Message: err.Error()})
			}
		}
	}

	// Broadcast interim and final alike, regardless of persistence
	// outcome: captions keep flowing even when storage is down.
	s.broadcast(seg)
}

// segmentFromResult normalizes one provider result into a segment.
// Returns false for empty text.
func (s *Session) segmentFromResult(res *Result) (transcript.Segment, bool) {
	if res.Text == "" {
		return transcript.Segment{}, false
	}

	startMs := int64(math.Floor(res.StartSec * 1000))
	if startMs < 0 {
		startMs = 0
	}
	endMs := int64(math.Floor((res.StartSec + res.DurationSec) * 1000))
	if endMs < startMs {
		endMs = startMs
	}

	label := inferSpeakerLabel(res.Words)
	if label == "" {
		label = s.SpeakerID
	}

	return transcript.Segment{
		Type:       transcript.EventType,
		RoomID:     s.RoomID,
		TrackID:    s.TrackID,
		SpeakerID:  s.SpeakerID,
		SegmentID:  fmt.Sprintf("seg_%s_%s_%d_%s", s.provider, s.ID, startMs, label),
		StartMs:    startMs,
		EndMs:      endMs,
		IsFinal:    res.IsFinal,
		Confidence: res.Confidence,
		SourceLang: s.SourceLang,
		Text:       res.Text,
	}, true
}

// inferSpeakerLabel derives a diarized-speaker label from word-level
// tags. More than one distinct speaker in a single event yields an
// ambiguous "N+" label rather than silently picking one.
func inferSpeakerLabel(words []Word) string {
	distinct := make(map[int]struct{})
	first := -1
	for _, w := range words {
		if w.Speaker == nil {
			continue
		}
		if first < 0 {
			first = *w.Speaker
		}
		distinct[*w.Speaker] = struct{}{}
	}
	if first < 0 {
		return ""
	}
	if len(distinct) > 1 {
		return strconv.Itoa(first) + "+"
	}
	return strconv.Itoa(first)
}

func (s *Session) broadcast(payload any) {
	s.mu.Lock()
	for l := range s.listeners {
		s.sendLocked(l, payload)
	}
	s.mu.Unlock()
}

// Must be called with s.mu held.
func (s *Session) sendLocked(l *Listener, payload any) {
	if l.closed {
		return
	}
	select {
	case l.ch <- payload:
	default:
		s.logger.Warn("listener channel full, dropping event")
	}
}

func (s *Session) decodeOpus(packet []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opusDec == nil {
		dec, err := opus.NewDecoder(constants.TargetSampleRate, 1)
		if err != nil {
			return nil, err
		}
		s.opusDec = dec
	}

	pcm := make([]int16, constants.TargetSampleRate/2) // up to 500ms
	n, err := s.opusDec.Decode(packet, pcm)
	if err != nil {
		return nil, err
	}
	return int16ToBytes(pcm[:n]), nil
}
