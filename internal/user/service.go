// Package user はユーザー参照のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/whispa/internal/model"
	"github.com/hitoshi/whispa/internal/repository"
)

const (
	defaultListLimit = 1
	maxListLimit     = 100
)

// Service はユーザー参照のサービス層。
// アカウントの作成は外部の認証基盤が行うため、ここでは読み取りのみを扱う。
type Service struct {
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo: userRepo,
		logger:   logger,
	}
}

// List は作成日時順にユーザーを最大limit件返す。
// limitが0以下なら1件、上限は100件に丸める。DB疎通確認にも使う。
func (s *Service) List(ctx context.Context, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	users, err := s.userRepo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}

	s.logger.Debug("users listed", slog.Int("count", len(users)))
	return users, nil
}

// Get は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
