// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings holds per-listener translator preferences and their
// file persistence.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TranslatorSettings is a pure value object; each listener owns its
// own copy, there is no shared mutable state.
type TranslatorSettings struct {
	SourceLang               string  `json:"source_lang"`
	TargetLang               string  `json:"target_lang"`
	CaptionsEnabled          bool    `json:"captions_enabled"`
	ReadAloudEnabled         bool    `json:"read_aloud_enabled"`
	DuckingEnabled           bool    `json:"ducking_enabled"`
	DuckedCallVolume         float64 `json:"ducked_call_volume"`
	ReadAloudVolume          float64 `json:"read_aloud_volume"`
	BroadcastCaptionsEnabled bool    `json:"broadcast_captions_enabled"`
	InputDeviceID            string  `json:"input_device_id"`
	OutputDeviceID           string  `json:"output_device_id"`
}

func Defaults() TranslatorSettings {
	return TranslatorSettings{
		SourceLang:               "en-US",
		TargetLang:               "en-US",
		CaptionsEnabled:          true,
		ReadAloudEnabled:         false,
		DuckingEnabled:           true,
		DuckedCallVolume:         0.35,
		ReadAloudVolume:          0.9,
		BroadcastCaptionsEnabled: false,
		InputDeviceID:            "default",
		OutputDeviceID:           "default",
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize clamps volume levels and fills empty language fields with
// the defaults.
func (s *TranslatorSettings) Normalize() {
	d := Defaults()
	if s.SourceLang == "" {
		s.SourceLang = d.SourceLang
	}
	if s.TargetLang == "" {
		s.TargetLang = d.TargetLang
	}
	if s.InputDeviceID == "" {
		s.InputDeviceID = d.InputDeviceID
	}
	if s.OutputDeviceID == "" {
		s.OutputDeviceID = d.OutputDeviceID
	}
	s.DuckedCallVolume = clamp01(s.DuckedCallVolume)
	s.ReadAloudVolume = clamp01(s.ReadAloudVolume)
}

// Load reads settings from path. A missing file yields the defaults.
func Load(path string) (TranslatorSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Defaults(), fmt.Errorf("failed to read settings: %w", err)
	}

	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		return Defaults(), fmt.Errorf("failed to parse settings: %w", err)
	}
	s.Normalize()
	return s, nil
}

// Save writes settings to path, creating parent directories as needed.
func Save(path string, s TranslatorSettings) error {
	s.Normalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
