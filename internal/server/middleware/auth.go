package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// AdminKey guards operator routes with a static key sent either as a Bearer
// token or in the X-API-Key header. An empty apiKey disables the check.
func AdminKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "MISSING_API_KEY", "missing admin API key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "INVALID_API_KEY", "invalid admin API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken prefers X-API-Key over Authorization: Bearer.
func extractToken(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, code, msg string) {
	writeFailure(w, http.StatusUnauthorized, code, msg)
}

// writeFailure emits the API error envelope shared with the handler package.
func writeFailure(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	})
}
