// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

type SessionCreateRequest struct {
	RoomID     string `json:"room_id"`
	SourceLang string `json:"source_lang,omitempty"`
	StreamURL  string `json:"stream_url,omitempty"`
	TrackID    string `json:"track_id,omitempty"`
}

type SessionCreateResponse struct {
	SessionID string `json:"session_id"`
}

type SessionCloseRequest struct {
	SessionID string `json:"session_id"`
}

type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
}

type TranslateResponse struct {
	Text string `json:"text"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
