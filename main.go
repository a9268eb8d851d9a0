// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orbitmeet/live_translator/internal/config"
	"github.com/orbitmeet/live_translator/internal/handlers"
	"github.com/orbitmeet/live_translator/internal/store"
	"github.com/orbitmeet/live_translator/internal/stt"
	"github.com/orbitmeet/live_translator/internal/translation"
	"github.com/orbitmeet/live_translator/internal/vosk"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LT_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting live_translator",
		"app_id", cfg.AppID,
		"port", cfg.AppPort,
	)

	var st store.Store
	if cfg.StoreURL != "" {
		st = store.NewRESTStore(cfg.StoreURL, cfg.StoreServiceKey)
		slog.Info("using REST transcript store", "url", cfg.StoreURL)
	} else {
		st = store.NewMemoryStore()
		slog.Info("using in-memory transcript store")
	}

	var provider stt.Provider
	if cfg.DeepgramAPIKey != "" {
		provider = stt.NewDeepgramProvider(cfg.DeepgramAPIKey, cfg.DeepgramModel)
	} else if cfg.VoskModelDir != "" {
		provider = vosk.NewProvider(cfg.VoskModelDir)
	} else {
		slog.Error("no transcription provider configured, set DEEPGRAM_API_KEY or VOSK_MODEL_DIR")
		os.Exit(1)
	}
	slog.Info("transcription provider selected", "provider", provider.Name())

	var translator translation.Translator
	if cfg.GeminiAPIKey != "" {
		translator = translation.NewGeminiTranslator(cfg.GeminiAPIKey, cfg.GeminiModel)
	} else {
		slog.Warn("no translation key configured, captions pass through untranslated")
		translator = translation.Passthrough{}
	}

	sessions := stt.NewManager(provider, st)

	h := handlers.NewHandler(cfg, sessions, st, translator)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	skipAuth := map[string]bool{
		"/heartbeat": true,
	}
	authedHandler := handlers.AuthMiddleware(cfg, skipAuth, mux)

	// No WriteTimeout: the event stream stays open for the whole call.
	srv := &http.Server{
		Handler:     authedHandler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var ln net.Listener
	if os.Getenv("HP_SHARED_KEY") != "" {
		sockPath := "/tmp/exapp.sock"
		os.Remove(sockPath) // clean up stale socket
		ln, err = net.Listen("unix", sockPath)
		if err != nil {
			slog.Error("failed to listen on unix socket", "path", sockPath, "error", err)
			os.Exit(1)
		}
		slog.Info("HTTP server listening on unix socket", "path", sockPath)
	} else {
		addr := ":" + cfg.AppPort
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			slog.Error("failed to listen on TCP", "addr", addr, "error", err)
			os.Exit(1)
		}
		slog.Info("HTTP server listening on TCP", "addr", addr)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	sessions.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
