package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/whispa/internal/middleware"
	"github.com/hitoshi/whispa/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context, limit int) ([]*model.User, error)
}

// UserHandler はユーザー参照のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// First は先頭のユーザー1件を配列で返す。DB疎通確認用。
// GET /api/user
func (h *UserHandler) First(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context(), 1)
	if err != nil {
		// 内部のエラー内容はレスポンスに含めない
		slog.Error("user query failed", slog.String("error", err.Error()))
		middleware.WriteSimpleError(w, http.StatusInternalServerError, "Database query failed")
		return
	}

	writeJSON(w, http.StatusOK, users)
}
