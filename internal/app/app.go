package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/whispa/internal/auth"
	"github.com/hitoshi/whispa/internal/clock"
	"github.com/hitoshi/whispa/internal/config"
	"github.com/hitoshi/whispa/internal/database"
	"github.com/hitoshi/whispa/internal/events"
	"github.com/hitoshi/whispa/internal/handler"
	"github.com/hitoshi/whispa/internal/logger"
	"github.com/hitoshi/whispa/internal/metrics"
	"github.com/hitoshi/whispa/internal/middleware"
	"github.com/hitoshi/whispa/internal/repository"
	"github.com/hitoshi/whispa/internal/todo"
	"github.com/hitoshi/whispa/internal/user"
	"github.com/hitoshi/whispa/internal/worker/cleanup"
	"github.com/hitoshi/whispa/internal/ws"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前のログはInfoで出す
	logger.SetupDefault(w, "info")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, rest := ParseCommand(args)

	if cmd == CommandHelp {
		writeUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3001"
		}
		return runHealthcheck(port)
	}

	// client はサーバー設定（DATABASE_URL等）を必要としない。
	// 標準出力は受信メッセージ専用とし、ログは標準エラーに出す。
	if cmd == CommandClient {
		logger.SetupDefault(os.Stderr, os.Getenv("LOG_LEVEL"))
		return runClient(w, rest)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("addr", cfg.Addr()),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	todoRepo := repository.NewPostgresTodoRepo(db)

	// 3. 任意の外部依存（Redis、NATS）
	var sessionCache auth.SessionCache
	if cfg.RedisURL != "" {
		rdb, err := auth.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rdb.Close()
		sessionCache = auth.NewRedisSessionCache(rdb, "whispa", cfg.SessionCacheTTL)
		slog.Info("session cache enabled", slog.Duration("ttl", cfg.SessionCacheTTL))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, "whispa-api")
		if err != nil {
			return err
		}
		defer nc.Drain()
		publisher = events.NewNATSPublisher(nc, cfg.NATSSubjectPrefix)
		slog.Info("event publishing enabled", slog.String("subject_prefix", cfg.NATSSubjectPrefix))
	}

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 5. ドメインサービスの初期化
	appLogger := slog.Default()
	clk := clock.Real()

	verifier := auth.NewSessionVerifier(sessionRepo, userRepo, sessionCache)
	authService := auth.NewService(userRepo, sessionRepo, sessionCache)
	userService := user.NewService(userRepo, appLogger)
	todoService := todo.NewService(todoRepo, publisher, collector, appLogger)

	// 6. WebSocketサーバーの構築
	dispatcher, err := ws.NewDispatcher(todoService, clk, collector, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create message dispatcher: %w", err)
	}
	wsCfg := ws.DefaultConfig()
	wsCfg.PingInterval = cfg.WSPingInterval
	wsCfg.PongWait = cfg.WSPongWait
	wsCfg.MaxMessageBytes = cfg.WSMaxMessageBytes
	wsCfg.AllowedOrigin = cfg.CORSAllowedOrigin
	wsServer := ws.NewServer(verifier, dispatcher, wsCfg, clk, collector, appLogger)

	// 7. ルーターの構築
	// RATE_LIMIT_GENERALはreq/min単位
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, 0), clk)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: []string{cfg.CORSAllowedOrigin},
		},
		RateLimiter: rateLimiter,
		Logger:      appLogger,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		UserService: userService,
		TodoService: todoService,

		WSPath:    cfg.WSPath,
		WSHandler: wsServer,

		MetricsHandler: metrics.Handler(reg),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// WebSocket接続は長時間維持するため、WriteTimeoutは設定しない
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("ws_path", cfg.WSPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ハイジャック済みのWebSocket接続はhttp.Server.Shutdownの対象外のため先に閉じる
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("websocket shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ワーカーは削除を直列に流すだけなので接続数を絞る
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	sessionRepo := repository.NewPostgresSessionRepo(db)
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, clock.Real(), slog.Default())

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// メインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.ApplyMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("version", uint64(status.Version)),
		slog.Uint64("latest", uint64(status.Latest)),
		slog.Bool("changed", status.Changed),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
