// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orbitmeet/live_translator/internal/transcript"
)

func TestRESTStoreUpsertResolvesOnSegmentID(t *testing.T) {
	var gotQuery, gotPrefer, gotAuth string
	var gotBody []transcript.Segment

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/rest/v1/transcript_segments") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("on_conflict")
		gotPrefer = r.Header.Get("Prefer")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	st := NewRESTStore(srv.URL, "svc-key")
	s := seg("r1", "s1", 0, true, "hello")
	if err := st.UpsertFinal(context.Background(), s); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if gotQuery != "segment_id" {
		t.Fatalf("on_conflict = %q, want segment_id", gotQuery)
	}
	if !strings.Contains(gotPrefer, "merge-duplicates") {
		t.Fatalf("Prefer = %q, want merge-duplicates", gotPrefer)
	}
	if gotAuth != "Bearer svc-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotBody) != 1 || gotBody[0].SegmentID != "s1" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestRESTStoreUpsertReportsServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := NewRESTStore(srv.URL, "svc-key")
	if err := st.UpsertFinal(context.Background(), seg("r1", "s1", 0, true, "x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestRESTStoreListBuildsCursorFilter(t *testing.T) {
	var gotOr, gotRoom, gotOrder string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotOr = q.Get("or")
		gotRoom = q.Get("room_id")
		gotOrder = q.Get("order")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"room_id":"r1","track_id":"mic","speaker_id":"a","segment_id":"s2","start_ms":200,"end_ms":700,"is_final":true,"source_lang":"en-US","text":"next"}]`))
	}))
	defer srv.Close()

	st := NewRESTStore(srv.URL, "svc-key")
	after := Cursor{AfterStartMs: 100, AfterSegmentID: "s1"}
	rows, err := st.ListFinal(context.Background(), "r1", after, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if gotRoom != "eq.r1" {
		t.Fatalf("room_id filter = %q", gotRoom)
	}
	if gotOrder != "start_ms.asc,segment_id.asc" {
		t.Fatalf("order = %q", gotOrder)
	}
	want := "(start_ms.gt.100,and(start_ms.eq.100,segment_id.gt.s1))"
	if gotOr != want {
		t.Fatalf("or filter = %q, want %q", gotOr, want)
	}

	if len(rows) != 1 || rows[0].SegmentID != "s2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if rows[0].Type != transcript.EventType {
		t.Fatalf("row type not restored: %q", rows[0].Type)
	}
}

func TestRESTStoreListWithoutCursorUsesPlainFilter(t *testing.T) {
	var hadOr bool
	var gotStart string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		_, hadOr = q["or"]
		gotStart = q.Get("start_ms")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	st := NewRESTStore(srv.URL, "svc-key")
	if _, err := st.ListFinal(context.Background(), "r1", Cursor{AfterStartMs: 300}, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if hadOr {
		t.Fatal("or filter must be absent without a segment id tiebreak")
	}
	if gotStart != "gte.300" {
		t.Fatalf("start_ms filter = %q", gotStart)
	}
}
