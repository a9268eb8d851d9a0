// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiTranslator calls the Gemini generateContent API with a strict
// translation prompt. Any upstream failure falls back to the input
// text.
type GeminiTranslator struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGeminiTranslator(apiKey, model string) *GeminiTranslator {
	return &GeminiTranslator{
		apiKey:     apiKey,
		model:      model,
		baseURL:    geminiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.With("component", "gemini_translator"),
	}
}

// SetBaseURL overrides the API endpoint. Test hook.
func (t *GeminiTranslator) SetBaseURL(u string) { t.baseURL = u }

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (t *GeminiTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if t.apiKey == "" {
		return text, nil
	}

	from := ""
	if sourceLang != "" && sourceLang != "auto" {
		from = fmt.Sprintf("from %s ", sourceLang)
	}
	prompt := fmt.Sprintf(
		"Translate the following text %sto %s.\nReturn only the translation with no extra punctuation or quotes.\n\nTEXT:\n%s",
		from, targetLang, text,
	)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:     0.1,
			TopP:            0.9,
			MaxOutputTokens: 256,
		},
	})
	if err != nil {
		return text, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		t.baseURL, url.PathEscape(t.model), url.QueryEscape(t.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return text, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("translation request failed", "error", err, "target_lang", targetLang)
		return text, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("translation service returned error", "status", resp.StatusCode, "target_lang", targetLang)
		return text, fmt.Errorf("translation service status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return text, fmt.Errorf("reading response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return text, fmt.Errorf("parsing response: %w", err)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return text, fmt.Errorf("empty translation response")
	}

	translated := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	if translated == "" {
		return text, fmt.Errorf("blank translation")
	}
	return translated, nil
}
