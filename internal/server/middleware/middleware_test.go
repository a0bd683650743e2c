package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, UserID(r.Context()))
	})
}

func TestJWT(t *testing.T) {
	valid, err := IssueToken(secret, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := IssueToken(secret, "u1", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := IssueToken("other-secret", "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, UserClaims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
		wantErr  string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "u1", ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "u1", ""},
		{"missing", "", http.StatusUnauthorized, "", "MISSING_TOKEN"},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized, "", "INVALID_AUTH_HEADER"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "", "INVALID_TOKEN"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "", "INVALID_TOKEN"},
		{"alg none", "Bearer " + none, http.StatusUnauthorized, "", "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/trading/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			JWT(secret)(echoUser()).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantErr == "" {
				if rec.Body.String() != tt.wantBody {
					t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
				}
				return
			}
			var env struct {
				Success bool   `json:"success"`
				Code    string `json:"code"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Success || env.Code != tt.wantErr {
				t.Fatalf("envelope = %+v, want code %s", env, tt.wantErr)
			}
		})
	}
}

func TestAdminKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		key     string
		headers map[string]string
		want    int
	}{
		{"disabled", "", nil, http.StatusNoContent},
		{"x-api-key", "k", map[string]string{"X-API-Key": "k"}, http.StatusNoContent},
		{"bearer", "k", map[string]string{"Authorization": "Bearer k"}, http.StatusNoContent},
		{"missing", "k", nil, http.StatusUnauthorized},
		{"wrong", "k", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/archive", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			AdminKey(tt.key)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type countingLimiter struct {
	keys  []string
	limit int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.keys = append(l.keys, key)
	n := 0
	for _, k := range l.keys {
		if k == key {
			n++
		}
	}
	return n <= l.limit, nil
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lim := &countingLimiter{limit: 2}
	h := RateLimit(lim, 2, time.Minute, logger)(echoUser())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/trading/trade", nil)
		req = req.WithContext(WithUserID(req.Context(), "u1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if lim.keys[0] != "api:user:u1" {
		t.Fatalf("key = %q", lim.keys[0])
	}

	// Anonymous callers are keyed by IP.
	req := httptest.NewRequest(http.MethodPost, "/trading/trade", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got := lim.keys[len(lim.keys)-1]; got != "api:ip:203.0.113.7" {
		t.Fatalf("key = %q", got)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute, logger)(echoUser())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trading/trade", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/trading/trade", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/trading/markets", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected allow origin for foreign origin")
	}
}
