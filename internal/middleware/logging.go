package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー。
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

var errHijackUnsupported = errors.New("response writer does not support hijacking")

// requestLog はログミドルウェアより内側で判明する属性を受け取る。
// Sessionミドルウェアはルート単位で適用されるため、コンテキストの値だけでは外側から見えない。
type requestLog struct {
	mu     sync.Mutex
	userID string
}

type requestLogKey struct{}

func (l *requestLog) setUserID(id string) {
	l.mu.Lock()
	l.userID = id
	l.mu.Unlock()
}

func (l *requestLog) getUserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID
}

// annotateUserID はログミドルウェアを通過中のリクエストにユーザーIDを記録する。
func annotateUserID(ctx context.Context, userID string) {
	if l, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		l.setUserID(userID)
	}
}

// responseRecorder はステータスコードと書き込みバイト数を記録する。
// WebSocketのためにHijackを委譲し、成功時は101として扱う。
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errHijackUnsupported
	}
	conn, rw, err := h.Hijack()
	if err == nil && rr.status == 0 {
		rr.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// requestID は受信したX-Request-IDを使い、なければ（長すぎる場合も）新しく採番する。
func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return uuid.NewString()
}

// NewLoggingMiddleware はリクエストごとに1行のJSON構造化ログ（http_request）を出力する。
// 属性: request_id, method, path, status, bytes, duration_ms, user_id（認証済みのみ）、
// upgraded（WebSocketのみ。duration_msは接続時間になる）。
// 4xxはWarn、5xxはErrorで出力する。レスポンスにはX-Request-IDを付与する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := requestID(r)
			w.Header().Set(RequestIDHeader, reqID)

			rl := &requestLog{}
			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLogKey{}, rl)))

			status := rec.statusCode()
			args := []any{
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}

			userID := rl.getUserID()
			if userID == "" {
				userID, _ = UserIDFromContext(r.Context())
			}
			if userID != "" {
				args = append(args, slog.String("user_id", userID))
			}
			if status == http.StatusSwitchingProtocols {
				args = append(args, slog.Bool("upgraded", true))
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
