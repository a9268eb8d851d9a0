// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/orbitmeet/live_translator/internal/constants"
)

// StreamEvents pushes session events to the client as server-sent
// events. An unknown session yields a single session_not_found event
// and the stream closes; the client decides whether to start over.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "session_id_required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming_unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	listener := h.Sessions.Attach(sessionID)
	if listener == nil {
		writeEvent(w, map[string]string{"error": "session_not_found", "session_id": sessionID})
		flusher.Flush()
		return
	}
	defer h.Sessions.Detach(sessionID, listener)

	logger := slog.With("component", "sse", "session_id", sessionID)
	logger.Debug("event stream attached")
	defer logger.Debug("event stream detached")

	ping := time.NewTicker(constants.SSEKeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-listener.Events():
			if !ok {
				// Session closed; end the stream.
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logger.Debug("client write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
