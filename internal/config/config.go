// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	AppID     string
	AppSecret string
	AppPort   string

	DeepgramAPIKey string
	DeepgramModel  string

	GeminiAPIKey string
	GeminiModel  string

	StoreURL        string
	StoreServiceKey string

	VoskModelDir string
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is merged in first, without overriding real env vars.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppID:           os.Getenv("APP_ID"),
		AppSecret:       os.Getenv("APP_SECRET"),
		AppPort:         os.Getenv("APP_PORT"),
		DeepgramAPIKey:  os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:   os.Getenv("DEEPGRAM_MODEL"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     os.Getenv("GEMINI_TRANSLATE_MODEL"),
		StoreURL:        os.Getenv("TRANSCRIPT_STORE_URL"),
		StoreServiceKey: os.Getenv("TRANSCRIPT_STORE_SERVICE_KEY"),
		VoskModelDir:    os.Getenv("VOSK_MODEL_DIR"),
	}

	if cfg.AppID == "" {
		return nil, fmt.Errorf("APP_ID environment variable is required")
	}
	if cfg.AppSecret == "" {
		return nil, fmt.Errorf("APP_SECRET environment variable is required")
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "23100"
	}
	if cfg.DeepgramModel == "" {
		cfg.DeepgramModel = "nova-2"
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}

	return cfg, nil
}

// PersistentStorage returns the directory used for client-local state
// (cursors, settings) and offline STT models.
func PersistentStorage() string {
	path := os.Getenv("APP_PERSISTENT_STORAGE")
	if path == "" {
		return "/var/lib/live_translator"
	}
	return path
}
