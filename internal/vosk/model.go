// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vosk adapts the vosk offline recognizer to the session
// manager's provider interface, for deployments without a cloud STT
// vendor.
package vosk

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

type ModelManager struct {
	mu       sync.Mutex
	modelDir string
	models   map[string]*modelEntry
	logger   *slog.Logger
}

type modelEntry struct {
	model    *vosk.VoskModel
	refCount int
}

func NewModelManager(modelDir string) *ModelManager {
	vosk.SetLogLevel(-1) // suppress vosk's own logs
	return &ModelManager{
		modelDir: modelDir,
		models:   make(map[string]*modelEntry),
		logger:   slog.With("component", "vosk_model_manager"),
	}
}

// GetModel loads (or reuses) the model for lang. Models live in
// <modelDir>/<lang> on disk. Callers must pair with ReleaseModel.
func (mm *ModelManager) GetModel(lang string) (*vosk.VoskModel, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if entry, ok := mm.models[lang]; ok {
		entry.refCount++
		return entry.model, nil
	}

	modelPath := filepath.Join(mm.modelDir, lang)
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model directory not found: %s", modelPath)
	}

	mm.logger.Info("loading vosk model", "lang", lang, "path", modelPath)
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading vosk model for %s: %w", lang, err)
	}

	mm.models[lang] = &modelEntry{model: model, refCount: 1}
	return model, nil
}

func (mm *ModelManager) ReleaseModel(lang string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	entry, ok := mm.models[lang]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		entry.model.Free()
		delete(mm.models, lang)
		mm.logger.Info("freed vosk model", "lang", lang)
	}
}
