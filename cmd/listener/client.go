// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/orbitmeet/live_translator/internal/broadcast"
	"github.com/orbitmeet/live_translator/internal/constants"
	"github.com/orbitmeet/live_translator/internal/store"
	"github.com/orbitmeet/live_translator/internal/transcript"
)

// apiClient talks to the pipeline server. It implements store.Store
// over the transcript endpoints and translation over the translate
// endpoint, so the client-side packages stay transport-agnostic.
type apiClient struct {
	baseURL  string
	appID    string
	authHdr  string
	client   *http.Client
	noLimits *http.Client // for the long-lived event stream
	logger   *slog.Logger
}

func newAPIClient(baseURL, appID, username, secret string) *apiClient {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + secret))
	return &apiClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		appID:    appID,
		authHdr:  token,
		client:   &http.Client{Timeout: constants.SendTimeout},
		noLimits: &http.Client{},
		logger:   slog.With("component", "api_client"),
	}
}

func (c *apiClient) do(req *http.Request, out any) error {
	req.Header.Set("X-APP-ID", c.appID)
	req.Header.Set("X-APP-AUTH", c.authHdr)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) CreateSession(ctx context.Context, roomID, sourceLang string) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.postJSON(ctx, "/api/v1/stt/session", map[string]string{
		"room_id":     roomID,
		"source_lang": sourceLang,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return resp.SessionID, nil
}

func (c *apiClient) Ingest(ctx context.Context, sessionID string, chunk []byte, opusEncoded bool) error {
	u := c.baseURL + "/api/v1/stt/ingest?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	if opusEncoded {
		req.Header.Set("Content-Type", "audio/opus")
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return c.do(req, nil)
}

func (c *apiClient) CloseSession(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/api/v1/stt/close", map[string]string{"session_id": sessionID}, nil)
}

// UpsertFinal satisfies store.Store through the segment endpoint.
func (c *apiClient) UpsertFinal(ctx context.Context, seg transcript.Segment) error {
	return c.postJSON(ctx, "/api/v1/transcripts/segment", seg, nil)
}

// ListFinal satisfies store.Store through the poll endpoint.
func (c *apiClient) ListFinal(ctx context.Context, roomID string, after store.Cursor, limit int) ([]transcript.Segment, error) {
	q := url.Values{}
	q.Set("room_id", roomID)
	if after.AfterStartMs >= 0 {
		q.Set("after_start_ms", strconv.FormatInt(after.AfterStartMs, 10))
		q.Set("after_segment_id", after.AfterSegmentID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/transcripts/poll?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []transcript.Segment `json:"items"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Translate satisfies translation.Translator against the server.
// Failures return the original text so captions are never blocked.
func (c *apiClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	err := c.postJSON(ctx, "/api/v1/translator/translate", map[string]string{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	}, &resp)
	if err != nil {
		return text, fmt.Errorf("translate request failed: %w", err)
	}
	return resp.Text, nil
}

// streamEvents follows the session's push stream and republishes
// segment events on the room hub. It reconnects with growing backoff
// until ctx is cancelled or the session reports closed.
func (c *apiClient) streamEvents(ctx context.Context, sessionID, roomID string, hub *broadcast.Hub) {
	backoff := time.Second
	for ctx.Err() == nil {
		closed, err := c.readEventStream(ctx, sessionID, roomID, hub)
		if closed || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("event stream dropped, reconnecting", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * constants.TimeoutIncreaseFactor)
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// readEventStream consumes one SSE connection. The bool result is true
// when the session is gone for good.
func (c *apiClient) readEventStream(ctx context.Context, sessionID, roomID string, hub *broadcast.Hub) (bool, error) {
	u := c.baseURL + "/api/v1/stt/events?session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-APP-ID", c.appID)
	req.Header.Set("X-APP-AUTH", c.authHdr)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.noLimits.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue // keep-alive comments and blank separators
		}
		data := []byte(strings.TrimPrefix(line, "data: "))

		var probe struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			c.logger.Debug("unparseable push event", "error", err)
			continue
		}

		switch {
		case probe.Error == "session_not_found":
			c.logger.Warn("session gone, stopping event stream", "session_id", sessionID)
			return true, nil
		case probe.Type == transcript.EventType:
			var seg transcript.Segment
			if err := json.Unmarshal(data, &seg); err != nil {
				continue
			}
			hub.Publish(broadcast.Event{Room: roomID, Payload: seg})
		case probe.Type == "stt.close":
			return true, nil
		case probe.Type != "":
			c.logger.Info("session notice", "type", probe.Type, "data", string(data))
		}
	}
	return false, scanner.Err()
}
