// Package todo はTODOの作成と参照のドメインロジックを提供する。
package todo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/whispa/internal/events"
	"github.com/hitoshi/whispa/internal/metrics"
	"github.com/hitoshi/whispa/internal/model"
	"github.com/hitoshi/whispa/internal/repository"
)

// Service はTODOのサービス層。WebSocketとHTTP APIの両方から利用する。
type Service struct {
	repo      repository.TodoRepository
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceを生成する。publisherとcollectorがnilの場合は何もしない実装を使う。
func NewService(
	repo repository.TodoRepository,
	publisher events.Publisher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		metrics:   collector,
		logger:    logger,
	}
}

// Create はTODOを作成する。
// タイトルが空の場合はINVALID_TODO_TITLE、DBが行を返さなかった場合はTODO_CREATE_FAILEDの
// APIErrorを返す。DB障害はラップしたエラーを返す。
func (s *Service) Create(ctx context.Context, in model.NewTodo) (*model.Todo, error) {
	if in.Title == "" {
		return nil, model.NewInvalidTodoTitleError()
	}
	if in.UserID == "" {
		return nil, model.NewUnauthorizedError()
	}

	todo, err := s.repo.Create(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create todo: %w", err)
	}
	if todo == nil {
		return nil, model.NewTodoCreateFailedError()
	}

	s.metrics.RecordTodoCreated()

	// イベント配信は失敗しても作成結果に影響させない
	if err := s.publisher.PublishTodoCreated(ctx, todo); err != nil {
		s.logger.Warn("failed to publish todo created event",
			slog.Int64("todo_id", todo.ID),
			slog.String("error", err.Error()),
		)
	}

	return todo, nil
}

// List はユーザーのTODO一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Todo, error) {
	todos, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	return todos, nil
}
