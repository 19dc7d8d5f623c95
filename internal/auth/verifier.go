package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/whispa/internal/model"
	"github.com/hitoshi/whispa/internal/repository"
)

// SessionCookieName はセッションIDを運ぶCookie名。
const SessionCookieName = "session_id"

// Verifier はリクエストヘッダーから認証済みユーザーを解決する。
// セッションが存在しない場合はnil, nilを返し、基盤障害の場合のみエラーを返す。
type Verifier interface {
	Verify(ctx context.Context, header http.Header) (*model.Identity, error)
}

// SessionVerifier はセッションCookieをDBで検証するVerifier実装。
type SessionVerifier struct {
	sessionRepo repository.SessionRepository
	userRepo    repository.UserRepository
	cache       SessionCache
	now         func() time.Time
}

// NewSessionVerifier はSessionVerifierを生成する。cacheがnilの場合は毎回DBを参照する。
func NewSessionVerifier(
	sessionRepo repository.SessionRepository,
	userRepo repository.UserRepository,
	cache SessionCache,
) *SessionVerifier {
	return &SessionVerifier{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		cache:       cache,
		now:         time.Now,
	}
}

// SessionIDFromHeader はヘッダーのCookieからセッションIDを取り出す。
func SessionIDFromHeader(header http.Header) string {
	req := http.Request{Header: header}
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Verify はCookieのセッションIDから認証済みユーザーを解決する。
func (v *SessionVerifier) Verify(ctx context.Context, header http.Header) (*model.Identity, error) {
	sessionID := SessionIDFromHeader(header)
	if sessionID == "" {
		return nil, nil
	}

	if v.cache != nil {
		cached, err := v.cache.Get(ctx, sessionID)
		if err != nil {
			// キャッシュ障害時はDBにフォールバックする
			slog.Warn("session cache lookup failed", slog.String("error", err.Error()))
		} else if cached != nil {
			return cached, nil
		}
	}

	session, err := v.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := v.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session user: %w", err)
	}
	if user == nil {
		return nil, nil
	}

	identity := model.IdentityFromUser(user)

	if v.cache != nil {
		ttl := session.ExpiresAt.Sub(v.now())
		if err := v.cache.Set(ctx, sessionID, identity, ttl); err != nil {
			slog.Warn("failed to cache session", slog.String("error", err.Error()))
		}
	}

	return identity, nil
}

// compile-time interface check
var _ Verifier = (*SessionVerifier)(nil)
