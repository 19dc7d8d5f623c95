// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/whispa/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityVerifier はリクエストヘッダーから認証済みユーザーを解決する。
// auth.Verifierと同じ形で、WebSocketのハンドシェイクと同じ検証をHTTPでも使う。
type IdentityVerifier interface {
	Verify(ctx context.Context, header http.Header) (*model.Identity, error)
}

// NewSessionMiddleware はセッションCookieを検証するミドルウェアを返す。
// 認証済みユーザーをリクエストコンテキストに注入する。
// セッションがなければ401、検証基盤の障害時は500を返す。
func NewSessionMiddleware(verifier IdentityVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.Verify(r.Context(), r.Header)
			if err != nil {
				slog.Error("failed to verify session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if identity == nil {
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}

			annotateUserID(r.Context(), identity.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.ID, nil
}

// ContextWithIdentity はコンテキストに認証済みユーザーを注入する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// ContextWithUserID はIDのみのユーザーをコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithIdentity(ctx, &model.Identity{ID: userID})
}
