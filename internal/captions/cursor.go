// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package captions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orbitmeet/live_translator/internal/store"
)

// cursorPath is stable per (room, target language) so switching the
// target language restarts read-aloud from its own watermark.
func cursorPath(dir, roomID, targetLang string) string {
	name := fmt.Sprintf("cursor_%s_%s.json", sanitize(roomID), sanitize(targetLang))
	return filepath.Join(dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// LoadCursor reads the persisted poll watermark. A missing or corrupt
// file yields the start sentinel; re-polling already-seen segments is
// harmless because observation is idempotent.
func LoadCursor(dir, roomID, targetLang string) store.Cursor {
	data, err := os.ReadFile(cursorPath(dir, roomID, targetLang))
	if err != nil {
		return store.Start()
	}
	var c store.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return store.Start()
	}
	return c
}

// SaveCursor persists the poll watermark.
func SaveCursor(dir, roomID, targetLang string, c store.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cursor dir: %w", err)
	}
	path := cursorPath(dir, roomID, targetLang)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}
