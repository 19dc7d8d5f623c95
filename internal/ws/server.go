package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/whispa/internal/auth"
	"github.com/hitoshi/whispa/internal/clock"
	"github.com/hitoshi/whispa/internal/metrics"
	"github.com/hitoshi/whispa/internal/model"
)

// Config はWebSocketサーバーの設定。
type Config struct {
	PingInterval     time.Duration // サーバーからのping送信間隔
	PongWait         time.Duration // pong待ち時間。超過すると切断する
	WriteWait        time.Duration // 1フレームの書き込み期限
	CloseGrace       time.Duration // クローズフレーム送信後にクライアント応答を待つ時間
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
	AllowedOrigin    string
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		PingInterval:     25 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		CloseGrace:       time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageBytes:  65536,
	}
}

// Server はWebSocketのアップグレード、ハンドシェイク認証、メッセージ処理を行うhttp.Handler。
type Server struct {
	verifier   auth.Verifier
	dispatcher *Dispatcher
	registry   *Registry
	metrics    metrics.MetricsCollector
	clock      clock.Clock
	logger     *slog.Logger
	cfg        Config
	upgrader   websocket.Upgrader

	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
}

// NewServer はServerを生成する。
func NewServer(
	verifier auth.Verifier,
	dispatcher *Dispatcher,
	cfg Config,
	clk clock.Clock,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		verifier:   verifier,
		dispatcher: dispatcher,
		registry:   NewRegistry(),
		metrics:    collector,
		clock:      clk,
		logger:     logger,
		cfg:        cfg,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      s.checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			logger.Warn("websocket upgrade failed",
				slog.Int("status", status),
				slog.String("error", reason.Error()),
			)
			http.Error(w, "WebSocket upgrade failed", status)
		},
	}
	return s
}

// Registry は接続レジストリを返す。
func (s *Server) Registry() *Registry { return s.registry }

// checkOrigin はOriginヘッダーが無い、許可オリジンに一致する、または同一ホストの場合に許可する。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cfg.AllowedOrigin != "" && origin == s.cfg.AllowedOrigin {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// ServeHTTP はリクエストをWebSocketにアップグレードし、接続終了までブロックする。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		http.Error(w, "WebSocket upgrade failed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	// アップグレード失敗時はupgrader.Errorが応答を書き、接続レコードは作らない
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := NewConnection(uuid.New().String(), r, wsConn, s.clock.Now())
	s.registry.Add(c)
	s.metrics.ConnectionOpened()

	logger := s.logger.With(slog.String("conn_id", c.ID()))
	logger.Info("websocket connection opened", slog.String("remote_addr", r.RemoteAddr))

	code, reason := websocket.CloseAbnormalClosure, ""
	defer func() {
		prev := c.MarkClosed()
		wsConn.Close()

		attrs := []any{
			slog.Int("code", code),
			slog.String("reason", reason),
			slog.String("last_state", prev.String()),
			slog.Int64("duration_ms", s.clock.Now().Sub(c.OpenedAt()).Milliseconds()),
		}
		if identity := c.Identity(); identity != nil {
			attrs = append(attrs, slog.String("user_id", identity.ID))
		}
		logger.Info("websocket connection closed", attrs...)

		// ログを書いてから登録を外す
		s.registry.Remove(c.ID())
		s.metrics.ConnectionClosed()
	}()

	if ok, hsCode, hsReason := s.handshake(r.Context(), c, logger); !ok {
		code, reason = hsCode, hsReason
		return
	}

	code, reason = s.readLoop(r.Context(), c, logger)
}

// handshake はアップグレード時のヘッダーでセッションを検証する。
// 認証に失敗した場合はクローズ済みで、送信したクローズコードと理由を返す。
func (s *Server) handshake(ctx context.Context, c *Connection, logger *slog.Logger) (bool, int, string) {
	if err := c.BeginAuthentication(); err != nil {
		logger.Error("unexpected connection state", slog.String("error", err.Error()))
		s.closeWith(c, websocket.CloseInternalServerErr, ReasonInternalError)
		return false, websocket.CloseInternalServerErr, ReasonInternalError
	}

	identity, err := s.verify(ctx, c)
	if err != nil {
		// 内部エラーの内容はクライアントに送らない
		s.metrics.RecordAuth(metrics.AuthResultError)
		logger.Error("session verification failed", slog.String("error", err.Error()))
		s.closeWith(c, websocket.CloseInternalServerErr, ReasonInternalError)
		return false, websocket.CloseInternalServerErr, ReasonInternalError
	}

	if identity == nil {
		s.metrics.RecordAuth(metrics.AuthResultRejected)
		_ = c.Reject()
		if err := c.writeJSON(newError(MsgUnauthorized), s.cfg.WriteWait); err != nil {
			logger.Warn("failed to send unauthorized message", slog.String("error", err.Error()))
		}
		s.closeWith(c, websocket.ClosePolicyViolation, ReasonUnauthorized)
		return false, websocket.ClosePolicyViolation, ReasonUnauthorized
	}

	if err := c.Authenticate(identity); err != nil {
		s.metrics.RecordAuth(metrics.AuthResultError)
		logger.Error("failed to attach identity", slog.String("error", err.Error()))
		s.closeWith(c, websocket.CloseInternalServerErr, ReasonInternalError)
		return false, websocket.CloseInternalServerErr, ReasonInternalError
	}
	s.metrics.RecordAuth(metrics.AuthResultAccepted)
	logger.Info("websocket connection authenticated", slog.String("user_id", identity.ID))

	if err := c.writeJSON(newAuthenticated(identity), s.cfg.WriteWait); err != nil {
		logger.Warn("failed to send authenticated message", slog.String("error", err.Error()))
		return false, websocket.CloseAbnormalClosure, ""
	}
	return true, 0, ""
}

// verify はVerifierを呼び出す。panicはエラーに変換する。
func (s *Server) verify(ctx context.Context, c *Connection) (identity *model.Identity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			identity = nil
			err = fmt.Errorf("panic in session verifier: %v", rec)
		}
	}()
	return s.verifier.Verify(ctx, c.Request().Header)
}

// readLoop は認証済み接続のフレームを到着順に処理する。
// 終了時に相手から受け取ったクローズコードと理由を返す。
func (s *Server) readLoop(ctx context.Context, c *Connection, logger *slog.Logger) (int, string) {
	ws := c.conn
	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	stop := s.startKeepalive(c, logger)
	defer stop()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return closeDetails(err, logger)
		}

		reply := s.dispatcher.Dispatch(ctx, c, frame)
		if err := c.writeJSON(reply, s.cfg.WriteWait); err != nil {
			logger.Warn("failed to send reply", slog.String("error", err.Error()))
			return websocket.CloseAbnormalClosure, ""
		}
	}
}

// startKeepalive は定期的にpingを送るゴルーチンを起動し、停止関数を返す。
func (s *Server) startKeepalive(c *Connection, logger *slog.Logger) func() {
	if s.cfg.PingInterval <= 0 {
		return func() {}
	}

	ticker := s.clock.NewTicker(s.cfg.PingInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait))
				if err != nil {
					logger.Debug("ping failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

// closeWith はクローズフレームを送り、クライアントの応答を短時間待つ。
func (s *Server) closeWith(c *Connection, code int, reason string) {
	if err := c.writeClose(code, reason, s.cfg.WriteWait); err != nil {
		return
	}
	if s.cfg.CloseGrace <= 0 {
		return
	}
	// クライアントのクローズ応答を読み捨てる
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.CloseGrace))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// closeDetails は読み取りエラーからクローズコードと理由を取り出す。
func closeDetails(err error, logger *slog.Logger) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logger.Info("websocket read timeout")
	} else {
		logger.Debug("websocket read error", slog.String("error", err.Error()))
	}
	return websocket.CloseAbnormalClosure, ""
}

// Shutdown はすべての接続に1001（Going Away）を送り、接続処理の終了を待つ。
// ctxの期限を過ぎた場合は残りの接続を強制的に閉じる。
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	for _, c := range s.registry.Snapshot() {
		if c.conn == nil {
			continue
		}
		_ = c.writeClose(websocket.CloseGoingAway, ReasonShutdown, s.cfg.WriteWait)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range s.registry.Snapshot() {
			if c.conn != nil {
				c.conn.Close()
			}
		}
		<-done
		return ctx.Err()
	}
}
