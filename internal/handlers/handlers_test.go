// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbitmeet/live_translator/internal/config"
	"github.com/orbitmeet/live_translator/internal/store"
	"github.com/orbitmeet/live_translator/internal/stt"
	"github.com/orbitmeet/live_translator/internal/transcript"
)

type fakeConn struct {
	events chan stt.Event
	sent   atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan stt.Event, 16)}
}

func (c *fakeConn) Send([]byte) error        { c.sent.Add(1); return nil }
func (c *fakeConn) Events() <-chan stt.Event { return c.events }
func (c *fakeConn) Close() error             { return nil }
func (c *fakeConn) emit(ev stt.Event)        { c.events <- ev }
func (c *fakeConn) sentCount() int           { return int(c.sent.Load()) }

type fakeProvider struct {
	conn    *fakeConn
	openErr error
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Open(context.Context, stt.OpenConfig) (stt.LiveConnection, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.conn, nil
}

// failingTranslator always errors and echoes the input.
type failingTranslator struct{}

func (failingTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, errors.New("translation service down")
}

func newTestHandler(p stt.Provider, st store.Store) *Handler {
	cfg := &config.Config{AppID: "test", AppSecret: "secret"}
	return NewHandler(cfg, stt.NewManager(p, st), st, failingTranslator{})
}

func doRequest(h *Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeat(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())
	rec := doRequest(h, http.MethodGet, "/heartbeat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestCreateSessionRequiresRoom(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())
	rec := doRequest(h, http.MethodPost, "/api/v1/stt/session", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "room_id_required") {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestCreateSessionProviderUnavailable(t *testing.T) {
	h := newTestHandler(&fakeProvider{openErr: stt.ErrProviderUnavailable}, store.NewMemoryStore())
	rec := doRequest(h, http.MethodPost, "/api/v1/stt/session", map[string]string{"room_id": "r1"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "provider_unavailable") {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())
	defer h.Sessions.Shutdown()

	rec := doRequest(h, http.MethodPost, "/api/v1/stt/session", map[string]string{"room_id": "r1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created SessionCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.SessionID == "" {
		t.Fatalf("create response: %s", rec.Body.String())
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	ingest := httptest.NewRequest(http.MethodPost,
		"/api/v1/stt/ingest?session_id="+created.SessionID, bytes.NewReader([]byte{1, 2, 3, 4}))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, ingest)
	if rec2.Code != http.StatusOK {
		t.Fatalf("ingest status %d: %s", rec2.Code, rec2.Body.String())
	}

	rec3 := doRequest(h, http.MethodPost, "/api/v1/stt/close", map[string]string{"session_id": created.SessionID})
	if rec3.Code != http.StatusOK {
		t.Fatalf("close status %d", rec3.Code)
	}
	// Closing again stays OK.
	rec4 := doRequest(h, http.MethodPost, "/api/v1/stt/close", map[string]string{"session_id": created.SessionID})
	if rec4.Code != http.StatusOK {
		t.Fatalf("second close status %d", rec4.Code)
	}

	rec5 := httptest.NewRecorder()
	ingest2 := httptest.NewRequest(http.MethodPost,
		"/api/v1/stt/ingest?session_id="+created.SessionID, bytes.NewReader([]byte{1}))
	mux.ServeHTTP(rec5, ingest2)
	if rec5.Code != http.StatusNotFound {
		t.Fatalf("ingest after close status %d", rec5.Code)
	}
}

func TestIngestValidation(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())

	rec := doRequest(h, http.MethodPost, "/api/v1/stt/ingest", nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "session_id_required") {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	rec2 := doRequest(h, http.MethodPost, "/api/v1/stt/ingest?session_id=abc", nil)
	if rec2.Code != http.StatusBadRequest || !strings.Contains(rec2.Body.String(), "empty_audio") {
		t.Fatalf("status %d: %s", rec2.Code, rec2.Body.String())
	}
}

func TestIngestRejectsOversizedBody(t *testing.T) {
	conn := newFakeConn()
	h := newTestHandler(&fakeProvider{conn: conn}, store.NewMemoryStore())
	defer h.Sessions.Shutdown()

	rec := doRequest(h, http.MethodPost, "/api/v1/stt/session", map[string]string{"room_id": "r1"})
	var created SessionCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.SessionID == "" {
		t.Fatalf("create response: %s", rec.Body.String())
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// A body past the chunk cap is rejected whole; a truncated prefix
	// must never reach the provider as audio.
	big := bytes.NewReader(make([]byte, (1<<20)+1))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stt/ingest?session_id="+created.SessionID, big)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d: %s", rec2.Code, rec2.Body.String())
	}
	if !strings.Contains(rec2.Body.String(), "audio_too_large") {
		t.Fatalf("body: %s", rec2.Body.String())
	}
	if got := conn.sentCount(); got != 0 {
		t.Fatalf("provider received %d frames, want none", got)
	}
}

func TestAppendAndPollSegments(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())

	seg := transcript.Segment{
		Type: transcript.EventType, RoomID: "r1", TrackID: "mic", SpeakerID: "alice",
		SegmentID: "s1", StartMs: 0, EndMs: 500, IsFinal: true,
		SourceLang: "en-US", Text: "hello",
	}
	rec := doRequest(h, http.MethodPost, "/api/v1/transcripts/segment", seg)
	if rec.Code != http.StatusOK {
		t.Fatalf("append status %d: %s", rec.Code, rec.Body.String())
	}

	bad := seg
	bad.Text = ""
	rec2 := doRequest(h, http.MethodPost, "/api/v1/transcripts/segment", bad)
	if rec2.Code != http.StatusBadRequest || !strings.Contains(rec2.Body.String(), "invalid_payload") {
		t.Fatalf("append invalid status %d: %s", rec2.Code, rec2.Body.String())
	}

	rec3 := doRequest(h, http.MethodGet, "/api/v1/transcripts/poll?room_id=r1", nil)
	if rec3.Code != http.StatusOK {
		t.Fatalf("poll status %d", rec3.Code)
	}
	var poll struct {
		Items []transcript.Segment `json:"items"`
	}
	if err := json.Unmarshal(rec3.Body.Bytes(), &poll); err != nil {
		t.Fatalf("poll body: %v", err)
	}
	if len(poll.Items) != 1 || poll.Items[0].SegmentID != "s1" {
		t.Fatalf("poll items: %+v", poll.Items)
	}

	rec4 := doRequest(h, http.MethodGet,
		"/api/v1/transcripts/poll?room_id=r1&after_start_ms=0&after_segment_id=s1", nil)
	var empty struct {
		Items []transcript.Segment `json:"items"`
	}
	if err := json.Unmarshal(rec4.Body.Bytes(), &empty); err != nil {
		t.Fatalf("poll after cursor: %v", err)
	}
	if len(empty.Items) != 0 {
		t.Fatalf("cursor must exclude seen items: %+v", empty.Items)
	}

	rec5 := doRequest(h, http.MethodGet, "/api/v1/transcripts/poll", nil)
	if rec5.Code != http.StatusBadRequest {
		t.Fatalf("poll without room status %d", rec5.Code)
	}
}

func TestTranslateFallsBackToOriginalText(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())

	rec := doRequest(h, http.MethodPost, "/api/v1/translator/translate", map[string]string{
		"text": "bonjour", "source_lang": "fr", "target_lang": "en",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp TranslateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if resp.Text != "bonjour" {
		t.Fatalf("expected original text back, got %q", resp.Text)
	}
}

func TestTranslateRejectsMalformedRequest(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())

	rec := doRequest(h, http.MethodPost, "/api/v1/translator/translate", map[string]string{"text": "hi"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid_request") {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestEventStreamUnknownSession(t *testing.T) {
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, store.NewMemoryStore())

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stt/events?session_id=ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	body := make([]byte, 1024)
	n, _ := resp.Body.Read(body)
	if !strings.Contains(string(body[:n]), "session_not_found") {
		t.Fatalf("body: %s", body[:n])
	}
}

func TestEventStreamDeliversSegments(t *testing.T) {
	conn := newFakeConn()
	h := newTestHandler(&fakeProvider{conn: conn}, store.NewMemoryStore())
	defer h.Sessions.Shutdown()

	rec := doRequest(h, http.MethodPost, "/api/v1/stt/session", map[string]string{"room_id": "r1"})
	var created SessionCreateResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/stt/events?session_id="+created.SessionID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	readData := func() string {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return ""
	}

	hello := readData()
	if !strings.Contains(hello, "stt.hello") {
		t.Fatalf("expected hello first, got %s", hello)
	}

	conn.emit(stt.Event{Kind: stt.EventTranscript, Result: &stt.Result{
		Text: "hello", IsFinal: true, StartSec: 0, DurationSec: 0.9,
	}})

	var seg transcript.Segment
	if err := json.Unmarshal([]byte(readData()), &seg); err != nil {
		t.Fatalf("segment decode: %v", err)
	}
	if seg.Text != "hello" || !seg.IsFinal || seg.RoomID != "r1" {
		t.Fatalf("unexpected segment: %+v", seg)
	}
}

func TestPollLimitIsClamped(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHandler(&fakeProvider{conn: newFakeConn()}, st)

	for i := 0; i < 5; i++ {
		seg := transcript.Segment{
			Type: transcript.EventType, RoomID: "r1", TrackID: "mic", SpeakerID: "a",
			SegmentID: fmt.Sprintf("s%d", i), StartMs: int64(i * 100), EndMs: int64(i*100 + 50),
			IsFinal: true, SourceLang: "en-US", Text: "x",
		}
		if err := st.UpsertFinal(context.Background(), seg); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doRequest(h, http.MethodGet, "/api/v1/transcripts/poll?room_id=r1&limit=2", nil)
	var poll struct {
		Items []transcript.Segment `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &poll)
	if len(poll.Items) != 2 {
		t.Fatalf("limit not applied: %d items", len(poll.Items))
	}
}
