// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/orbitmeet/live_translator/internal/transcript"
)

const segmentsTable = "/rest/v1/transcript_segments"

// RESTStore talks to a PostgREST-compatible endpoint holding the
// transcript_segments table. Upserts resolve conflicts on segment_id so
// repeated submission of the same segment leaves exactly one row.
type RESTStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRESTStore(baseURL, serviceKey string) *RESTStore {
	return &RESTStore{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.With("component", "rest_store"),
	}
}

func (s *RESTStore) UpsertFinal(ctx context.Context, seg transcript.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}

	u, err := url.Parse(s.baseURL + segmentsTable)
	if err != nil {
		return fmt.Errorf("store url: %w", err)
	}
	q := u.Query()
	q.Set("on_conflict", "segment_id")
	u.RawQuery = q.Encode()

	body, err := json.Marshal([]transcript.Segment{seg})
	if err != nil {
		return fmt.Errorf("marshaling segment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing upsert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		s.logger.Warn("segment upsert failed",
			"status", resp.StatusCode,
			"segment_id", seg.SegmentID,
			"body", string(respBody),
		)
		return fmt.Errorf("store upsert failed with status %d", resp.StatusCode)
	}
	return nil
}

func (s *RESTStore) ListFinal(ctx context.Context, roomID string, after Cursor, limit int) ([]transcript.Segment, error) {
	limit = clampLimit(limit)

	u, err := url.Parse(s.baseURL + segmentsTable)
	if err != nil {
		return nil, fmt.Errorf("store url: %w", err)
	}
	q := u.Query()
	q.Set("select", "room_id,track_id,speaker_id,segment_id,start_ms,end_ms,is_final,confidence,source_lang,text")
	q.Set("room_id", "eq."+roomID)
	q.Set("is_final", "eq.true")
	q.Set("order", "start_ms.asc,segment_id.asc")
	q.Set("limit", strconv.Itoa(limit))

	if after.AfterStartMs >= 0 {
		if after.AfterSegmentID != "" {
			q.Set("or", fmt.Sprintf(
				"(start_ms.gt.%d,and(start_ms.eq.%d,segment_id.gt.%s))",
				after.AfterStartMs, after.AfterStartMs, after.AfterSegmentID,
			))
		} else {
			// Start-only cursor: include rows at the watermark itself,
			// matching Cursor.Admits.
			q.Set("start_ms", fmt.Sprintf("gte.%d", after.AfterStartMs))
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("segment list failed", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("store list failed with status %d", resp.StatusCode)
	}

	var rows []transcript.Segment
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parsing store response: %w", err)
	}
	for i := range rows {
		rows[i].Type = transcript.EventType
	}
	return rows, nil
}

func (s *RESTStore) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")
}
