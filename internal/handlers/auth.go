// SPDX-FileCopyrightText: 2026 Orbitmeet GmbH and Orbitmeet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/orbitmeet/live_translator/internal/config"
)

// AuthMiddleware enforces the shared-secret contract with the hosting
// platform: an app id header plus a base64 user:secret credential. The
// authenticated username is forwarded to handlers via X-Auth-Username.
func AuthMiddleware(cfg *config.Config, skipPaths map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		appID := r.Header.Get("X-APP-ID")
		authHeader := r.Header.Get("X-APP-AUTH")

		if appID == "" || authHeader == "" {
			slog.Warn("missing auth headers", "path", r.URL.Path, "app_id", appID)
			http.Error(w, `{"error": "missing authentication headers"}`, http.StatusUnauthorized)
			return
		}

		if appID != cfg.AppID {
			slog.Warn("invalid X-APP-ID", "got", appID, "expected", cfg.AppID)
			http.Error(w, `{"error": "invalid app id"}`, http.StatusUnauthorized)
			return
		}

		username, secret := decodeAuthHeader(authHeader)
		if secret != cfg.AppSecret {
			slog.Warn("invalid app secret", "username", username)
			http.Error(w, `{"error": "invalid app secret"}`, http.StatusUnauthorized)
			return
		}

		r.Header.Set("X-Auth-Username", username)
		next.ServeHTTP(w, r)
	})
}

func decodeAuthHeader(header string) (username, secret string) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return "", ""
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
