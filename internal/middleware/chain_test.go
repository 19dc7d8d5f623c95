package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/whispa/internal/model"
)

// TestMiddlewareChain_SessionThenLogging は
// Session → Logging の順でユーザーIDがログに残ることを検証する。
func TestMiddlewareChain_SessionThenLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	verifier := cookieVerifier("valid-session", &model.Identity{ID: "user-chain-test"})

	handler := NewSessionMiddleware(verifier)(NewLoggingMiddleware(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	))

	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["user_id"] != "user-chain-test" {
		t.Errorf("user_id = %v, want user-chain-test", entry["user_id"])
	}
}

// TestMiddlewareChain_NoSession_Returns401 はセッションなしのPOSTが後続に届かないことを検証する。
func TestMiddlewareChain_NoSession_Returns401(t *testing.T) {
	verifier := cookieVerifier("valid-session", &model.Identity{ID: "user-1"})

	handler := NewCORSMiddleware("http://localhost:3000")(NewSessionMiddleware(verifier)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}),
	))

	req := httptest.NewRequest(http.MethodPost, "/api/todos", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("CORS header missing on 401: %q", got)
	}
}

// TestMiddlewareChain_RecoveryReturnsJSON はpanicが500の統一エラーになることを検証する。
func TestMiddlewareChain_RecoveryReturnsJSON(t *testing.T) {
	handler := NewRecoveryMiddleware()(NewSecurityHeadersMiddleware(SecurityHeadersConfig{})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	))

	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
