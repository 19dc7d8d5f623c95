package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/whispa/internal/middleware"
	"github.com/hitoshi/whispa/internal/model"
)

// maxTodoBodyBytes はTODO作成リクエストボディの上限。
const maxTodoBodyBytes = 16 << 10

// TodoServiceInterface はTODOハンドラーが必要とするサービスインターフェース。
type TodoServiceInterface interface {
	Create(ctx context.Context, in model.NewTodo) (*model.Todo, error)
	List(ctx context.Context, userID string) ([]*model.Todo, error)
}

// TodoHandler はTODOのHTTPハンドラー。WebSocketのcreate_todoと同じサービスを使う。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{service: service}
}

type createTodoRequest struct {
	Title string `json:"title"`
}

// List はログインユーザーのTODO一覧を返す。
// GET /api/todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	todos, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if todos == nil {
		todos = []*model.Todo{}
	}

	writeJSON(w, http.StatusOK, todos)
}

// Create はTODOを作成する。userIdは常にセッションのユーザーになる。
// POST /api/todos
func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	var req createTodoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTodoBodyBytes)).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}

	todo, err := h.service.Create(r.Context(), model.NewTodo{
		Title:     req.Title,
		UserID:    userID,
		Completed: false,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, todo)
}
