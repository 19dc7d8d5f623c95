package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/whispa/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteAPIError_StatusFromCode は定義済みエラーがコードに応じたステータスで書き込まれることを検証する。
func TestWriteAPIError_StatusFromCode(t *testing.T) {
	tests := []struct {
		apiErr     *model.APIError
		wantStatus int
	}{
		{model.NewUnauthorizedError(), http.StatusUnauthorized},
		{model.NewInvalidTodoTitleError(), http.StatusBadRequest},
		{model.NewInvalidRequestError("x"), http.StatusBadRequest},
		{model.NewUserNotFoundError(), http.StatusNotFound},
		{model.NewCSRFFailedError(), http.StatusForbidden},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewTodoCreateFailedError(), http.StatusInternalServerError},
		{model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.apiErr.Code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAPIError(w, tt.apiErr)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeErrorBody(t, w)
			if body.Code != tt.apiErr.Code || body.Message != tt.apiErr.Message {
				t.Errorf("body = %+v, want code %q message %q", body, tt.apiErr.Code, tt.apiErr.Message)
			}
			if body.Category == "" || body.Action == "" {
				t.Errorf("category and action should be set: %+v", body)
			}
		})
	}
}

// TestWriteError_WrappedAPIError はラップされたAPIErrorも取り出されることを検証する。
func TestWriteError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("create: %w", model.NewInvalidTodoTitleError()))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeInvalidTodoTitle {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidTodoTitle)
	}
}

// TestWriteError_PlainErrorIsHidden は通常のエラー内容がレスポンスに含まれないことを検証する。
func TestWriteError_PlainErrorIsHidden(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("pq: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if body.Message == "pq: connection refused" {
		t.Error("internal error text should not be exposed")
	}
}

// TestWriteSimpleError_WritesErrorField は {"error": ...} 形式で書き込まれることを検証する。
func TestWriteSimpleError_WritesErrorField(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSimpleError(w, http.StatusInternalServerError, "Database query failed")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if len(body) != 1 || body["error"] != "Database query failed" {
		t.Errorf("body = %v, want only error field", body)
	}
}
