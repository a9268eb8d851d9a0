// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package handlers exposes the pipeline over HTTP: session lifecycle,
// audio ingestion, the push-event stream, the durable transcript
// endpoints and the translation endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/orbitmeet/live_translator/internal/config"
	"github.com/orbitmeet/live_translator/internal/store"
	"github.com/orbitmeet/live_translator/internal/stt"
	"github.com/orbitmeet/live_translator/internal/transcript"
	"github.com/orbitmeet/live_translator/internal/translation"
)

type Handler struct {
	Config     *config.Config
	Sessions   *stt.Manager
	Store      store.Store
	Translator translation.Translator
}

func NewHandler(cfg *config.Config, sessions *stt.Manager, st store.Store, tr translation.Translator) *Handler {
	return &Handler{
		Config:     cfg,
		Sessions:   sessions,
		Store:      st,
		Translator: tr,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "room_id_required"})
		return
	}

	speakerID := r.Header.Get("X-Auth-Username")
	if speakerID == "" {
		speakerID = "unknown"
	}

	sessionID, err := h.Sessions.Create(r.Context(), stt.CreateParams{
		RoomID:     roomID,
		SpeakerID:  speakerID,
		SourceLang: strings.TrimSpace(req.SourceLang),
		TrackID:    strings.TrimSpace(req.TrackID),
		StreamURL:  strings.TrimSpace(req.StreamURL),
	})
	if err != nil {
		slog.Error("session create failed", "error", err, "room_id", roomID)
		if errors.Is(err, stt.ErrProviderUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "provider_unavailable", Details: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "session_create_failed", Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SessionCreateResponse{SessionID: sessionID})
}

func (h *Handler) IngestAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "session_id_required"})
		return
	}

	const maxChunk = 1 << 20
	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunk))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "audio_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "body_read_failed"})
		return
	}

	if len(chunk) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty_audio"})
		return
	}

	opusEncoded := strings.Contains(r.Header.Get("Content-Type"), "opus")
	if err := h.Sessions.Ingest(sessionID, chunk, opusEncoded); err != nil {
		switch {
		case errors.Is(err, stt.ErrSessionNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "session_not_found"})
		case errors.Is(err, stt.ErrEmptyAudio):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty_audio"})
		default:
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "ingest_failed", Details: err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// CloseSession is idempotent: closing an unknown or already-closed
// session still returns success.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "session_id_required"})
		return
	}

	h.Sessions.Close(req.SessionID)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) AppendSegment(w http.ResponseWriter, r *http.Request) {
	var seg transcript.Segment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_payload"})
		return
	}
	if err := seg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Details: err.Error()})
		return
	}

	if err := h.Store.UpsertFinal(r.Context(), seg); err != nil {
		slog.Error("segment upsert failed", "error", err, "segment_id", seg.SegmentID)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "db_error", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) PollSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("room_id")
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "room_id_required"})
		return
	}

	after := store.Start()
	if raw := q.Get("after_start_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			after.AfterStartMs = ms
			after.AfterSegmentID = q.Get("after_segment_id")
		}
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	items, err := h.Store.ListFinal(r.Context(), roomID, after, limit)
	if err != nil {
		slog.Error("segment list failed", "error", err, "room_id", roomID)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "db_error", Details: err.Error()})
		return
	}
	if items == nil {
		items = []transcript.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Translate never surfaces an upstream failure for a well-formed
// request; the adapter falls back to the original text.
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}
	if req.Text == "" || req.TargetLang == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusOK, TranslateResponse{Text: ""})
		return
	}

	translated, err := h.Translator.Translate(r.Context(), text, req.SourceLang, req.TargetLang)
	if err != nil {
		slog.Warn("translation fell back to original text", "error", err, "target_lang", req.TargetLang)
		translated = text
	}
	writeJSON(w, http.StatusOK, TranslateResponse{Text: translated})
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /heartbeat", h.Heartbeat)

	mux.HandleFunc("POST /api/v1/stt/session", h.CreateSession)
	mux.HandleFunc("POST /api/v1/stt/ingest", h.IngestAudio)
	mux.HandleFunc("POST /api/v1/stt/close", h.CloseSession)
	mux.HandleFunc("GET /api/v1/stt/events", h.StreamEvents)

	mux.HandleFunc("POST /api/v1/transcripts/segment", h.AppendSegment)
	mux.HandleFunc("GET /api/v1/transcripts/poll", h.PollSegments)

	mux.HandleFunc("POST /api/v1/translator/translate", h.Translate)
}
