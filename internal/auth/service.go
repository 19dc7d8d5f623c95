// Package auth はセッションCookieによる認証とセッション管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/whispa/internal/model"
	"github.com/hitoshi/whispa/internal/repository"
)

// Service はセッションに関するビジネスロジックを提供する。
// セッションの発行は外部の認証基盤が行い、ここでは参照と破棄のみを扱う。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	cache       SessionCache
}

// NewService はServiceを生成する。cacheがnilの場合はキャッシュを使用しない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	cache SessionCache,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		cache:       cache,
	}
}

// Logout はセッションを破棄する。キャッシュ済みの認証結果も無効化する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, sessionID); err != nil {
			// キャッシュはTTLで失効するため、削除失敗はログのみ
			slog.Warn("failed to invalidate session cache", slog.String("error", err.Error()))
		}
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}
