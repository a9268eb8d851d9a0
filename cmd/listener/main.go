// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// listener is the per-participant client: it joins a room, optionally
// broadcasts the local microphone, renders a translated caption
// overlay in the terminal and reads finalized captions aloud.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/orbitmeet/live_translator/internal/broadcast"
	"github.com/orbitmeet/live_translator/internal/capture"
	"github.com/orbitmeet/live_translator/internal/captions"
	"github.com/orbitmeet/live_translator/internal/readaloud"
	"github.com/orbitmeet/live_translator/internal/settings"
	"github.com/orbitmeet/live_translator/internal/transcript"
)

const displayRefresh = 500 * time.Millisecond

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LT_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	_ = godotenv.Load()

	roomID := os.Getenv("LT_ROOM_ID")
	if roomID == "" {
		slog.Error("LT_ROOM_ID not set")
		os.Exit(1)
	}
	serverURL := envOr("LT_SERVER_URL", "http://localhost:23100")
	appID := envOr("APP_ID", "live_translator")
	appSecret := os.Getenv("APP_SECRET")
	username := envOr("LT_USERNAME", "listener")
	storageDir := envOr("APP_PERSISTENT_STORAGE", filepath.Join(os.TempDir(), "live_translator"))

	prefs, err := settings.Load(filepath.Join(storageDir, "settings.json"))
	if err != nil {
		slog.Warn("failed to load settings, using defaults", "error", err)
	}
	if err := settings.Save(filepath.Join(storageDir, "settings.json"), prefs); err != nil {
		slog.Warn("failed to persist settings", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	api := newAPIClient(serverURL, appID, username, appSecret)

	// Read-aloud chain: stub synthesizer into the system speaker, call
	// output ducked while speaking.
	callOut := &loggedCallOutput{volume: 1.0}
	ducker := readaloud.NewDucker(callOut, prefs.DuckedCallVolume, prefs.DuckingEnabled)
	player := readaloud.NewPlayer(prefs.ReadAloudVolume)
	engine := readaloud.NewEngine(readaloud.StubSynthesizer{}, player, ducker)
	go engine.Run(ctx)

	var speech captions.Speech
	if prefs.ReadAloudEnabled {
		speech = engine
	}
	agg := captions.NewAggregator(prefs, api, speech)

	hub := broadcast.NewHub()
	events, cancelSub := hub.Subscribe()
	defer cancelSub()
	go func() {
		for ev := range events {
			if seg, ok := ev.Payload.(transcript.Segment); ok {
				agg.Observe(ctx, seg)
			}
		}
	}()

	poller := captions.NewPoller(api, agg, roomID, prefs.TargetLang, filepath.Join(storageDir, "cursors"))
	go poller.Run(ctx)

	if prefs.BroadcastCaptionsEnabled {
		go broadcastMic(ctx, api, roomID, prefs, hub)
	}

	slog.Info("listener joined room", "room_id", roomID, "target_lang", prefs.TargetLang)

	renderLoop(ctx, agg)
	engine.Stop()
	slog.Info("listener shut down")
}

// broadcastMic creates an upstream session, follows its push stream
// for the live caption path and streams the microphone into it until
// ctx ends. The session is closed on every exit path by the capture
// teardown.
func broadcastMic(ctx context.Context, api *apiClient, roomID string, prefs settings.TranslatorSettings, hub *broadcast.Hub) {
	sessionID, err := api.CreateSession(ctx, roomID, prefs.SourceLang)
	if err != nil {
		slog.Error("broadcasting disabled, session create failed", "error", err)
		return
	}
	slog.Info("broadcasting microphone", "session_id", sessionID)

	go api.streamEvents(ctx, sessionID, roomID, hub)

	const encodeOpus = true
	mic := capture.New(prefs.InputDeviceID, encodeOpus,
		func(ctx context.Context, chunk []byte) error {
			return api.Ingest(ctx, sessionID, chunk, encodeOpus)
		},
		func(ctx context.Context) {
			if err := api.CloseSession(ctx, sessionID); err != nil {
				slog.Warn("session close failed", "error", err)
			}
		},
	)
	if err := mic.Run(ctx); err != nil {
		slog.Error("broadcasting stopped", "error", err)
	}
}

// renderLoop prints the caption overlay whenever it changes.
func renderLoop(ctx context.Context, agg *captions.Aggregator) {
	ticker := time.NewTicker(displayRefresh)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			line := agg.Display()
			if line != last {
				last = line
				fmt.Println(line)
			}
		}
	}
}

// loggedCallOutput stands in for the call platform's output control.
type loggedCallOutput struct {
	volume float64
}

func (o *loggedCallOutput) Volume() float64 { return o.volume }

func (o *loggedCallOutput) SetVolume(v float64) {
	o.volume = v
	slog.Debug("call output volume set", "volume", v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
