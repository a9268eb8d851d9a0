// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package translation wraps the external translation service.
// Translation is a best-effort enhancement: every implementation
// returns the input text alongside the error on failure, so callers
// can always display something.
package translation

import "context"

// Translator translates text between languages. On failure the
// returned string is the unmodified input; the error tells callers not
// to cache the result.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Passthrough is used when no translation service is configured.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
