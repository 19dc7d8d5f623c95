package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/whispa/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.IdentityVerifier
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー・TODO
	UserService UserServiceInterface
	TodoService TodoServiceInterface

	// WebSocket
	WSPath    string
	WSHandler http.Handler

	// MetricsHandler がnilの場合 /metrics は公開しない
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェア:
//
//	Recovery → Logging → SecurityHeaders → CORS
//
// /api/todos はさらに Session → CSRF → RateLimit(General) を通す。
// WebSocketはハンドシェイク内で認証するため、Sessionミドルウェアを通さない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HSTS: deps.CSRFConfig.CookieSecure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(NotFound)

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	todoHandler := NewTodoHandler(deps.TodoService)

	// --- 認証不要のルート ---
	r.Get("/", Health)
	r.Get("/health", Health)

	wsPath := deps.WSPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	if deps.WSHandler != nil {
		r.Method(http.MethodGet, wsPath, deps.WSHandler)
	}

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
	r.With(deps.RateLimiter.GeneralMiddleware()).Get("/api/user", userHandler.First)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/me", authHandler.Me)
		r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	r.Route("/api/todos", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Verifier))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", todoHandler.List)
		r.With(deps.RateLimiter.TodoCreateMiddleware()).Post("/", todoHandler.Create)
	})

	return r
}
