package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/whispa/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields は1リクエスト1行で必要な属性が出力されることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := parseLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
	if entry["method"] != "GET" || entry["path"] != "/health" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if entry["bytes"] != float64(2) {
		t.Errorf("bytes = %v, want 2", entry["bytes"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want non-negative number", entry["duration_ms"])
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted for anonymous requests")
	}
	if _, ok := entry["upgraded"]; ok {
		t.Error("upgraded should be omitted for plain HTTP")
	}
}

// TestLoggingMiddleware_RequestID は受信したIDを引き継ぎ、なければ採番することを検証する。
func TestLoggingMiddleware_RequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"引き継ぎ", "req-123", true},
		{"なし", "", false},
		{"長すぎる", strings.Repeat("x", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if tt.keep && got != tt.incoming {
				t.Errorf("%s = %q, want %q", RequestIDHeader, got, tt.incoming)
			}
			if !tt.keep {
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("%s = %q, want generated uuid", RequestIDHeader, got)
				}
			}
			if entry := parseLogEntry(t, &buf); entry["request_id"] != got {
				t.Errorf("request_id = %v, want %q", entry["request_id"], got)
			}
		})
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスに応じてログレベルが変わることを検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusCreated, "INFO"},
		{http.StatusUnauthorized, "WARN"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/todos", nil))

			entry := parseLogEntry(t, &buf)
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

// TestLoggingMiddleware_UserIDFromInnerSession は内側のSessionミドルウェアで
// 判明したユーザーIDが外側のログに出力されることを検証する。
func TestLoggingMiddleware_UserIDFromInnerSession(t *testing.T) {
	var buf bytes.Buffer
	verifier := cookieVerifier("sess-1", &model.Identity{ID: "user-inner"})

	handler := NewLoggingMiddleware(newTestLogger(&buf))(NewSessionMiddleware(verifier)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if entry := parseLogEntry(t, &buf); entry["user_id"] != "user-inner" {
		t.Errorf("user_id = %v, want user-inner", entry["user_id"])
	}
}

// TestLoggingMiddleware_WebSocketUpgrade はラップしたResponseWriterでも
// WebSocketアップグレードができ、101として記録されることを検証する。
func TestLoggingMiddleware_WebSocketUpgrade(t *testing.T) {
	var buf bytes.Buffer
	upgrader := websocket.Upgrader{}
	wrapped := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped.ServeHTTP(w, r)
		close(done)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}

	entry := parseLogEntry(t, &buf)
	if entry["status"] != float64(http.StatusSwitchingProtocols) {
		t.Errorf("status = %v, want 101", entry["status"])
	}
	if entry["upgraded"] != true {
		t.Errorf("upgraded = %v, want true", entry["upgraded"])
	}
}

// TestResponseRecorder_HijackUnsupported はHijack非対応のWriterでエラーを返すことを検証する。
func TestResponseRecorder_HijackUnsupported(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected error from non-hijackable writer")
	}
	if rec.statusCode() != http.StatusOK {
		t.Errorf("status = %d, want default 200", rec.statusCode())
	}
}
