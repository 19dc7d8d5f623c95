package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/hitoshi/whispa/internal/clock"
	"github.com/hitoshi/whispa/internal/config"
	"github.com/hitoshi/whispa/internal/wsclient"
)

// parseClientFlags はclientサブコマンドの引数を解析する。
// 環境変数、--configのTOMLファイル、フラグの順に上書きする。
func parseClientFlags(args []string) (*config.ClientConfig, error) {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to client config (TOML)")
	rawURL := fs.String("url", "", "websocket URL (ws:// or wss://)")
	cookie := fs.String("cookie", "", "session_id cookie value")
	reconnect := fs.Bool("reconnect", true, "reconnect after the connection closes")
	reconnectInterval := fs.Duration("reconnect-interval", wsclient.DefaultReconnectInterval, "fixed delay before reconnecting")
	stopOnPolicy := fs.Bool("stop-on-policy-violation", true, "do not reconnect after close code 1008")
	pingInterval := fs.Duration("ping-interval", 10*time.Second, "interval of application ping messages (0 disables)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse client flags: %w", err)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return nil, err
	}

	if fs.Changed("url") {
		cfg.URL = *rawURL
	}
	if fs.Changed("cookie") {
		cfg.SessionCookie = *cookie
	}
	if fs.Changed("reconnect") {
		cfg.Reconnect = *reconnect
	}
	if fs.Changed("reconnect-interval") {
		cfg.ReconnectInterval = *reconnectInterval
	}
	if fs.Changed("stop-on-policy-violation") {
		cfg.StopOnPolicyViolation = *stopOnPolicy
	}
	if fs.Changed("ping-interval") {
		cfg.PingInterval = *pingInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// clientGivesUp はクローズ後にクライアントが再接続しない場合にtrueを返す。
func clientGivesUp(cfg *config.ClientConfig, info wsclient.CloseInfo) bool {
	if !cfg.Reconnect {
		return true
	}
	return cfg.StopOnPolicyViolation && info.Code == websocket.ClosePolicyViolation
}

// runClient は再接続クライアントを起動し、受信したメッセージを1行1JSONでwに書き出す。
// シグナル受信、または再接続しない切断で終了する。
// 1008で拒否された場合はエラーを返す。
func runClient(w io.Writer, args []string) error {
	cfg, err := parseClientFlags(args)
	if err != nil {
		return err
	}

	dialer, err := wsclient.NewDialer(cfg.URL, cfg.SessionCookie)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	enc := json.NewEncoder(w)
	done := make(chan wsclient.CloseInfo, 1)

	// コールバックは直列に呼ばれるため、encへの書き込みに排他は不要
	client := wsclient.New(wsclient.Options{
		URL:                   cfg.URL,
		Reconnect:             cfg.Reconnect,
		ReconnectInterval:     cfg.ReconnectInterval,
		StopOnPolicyViolation: cfg.StopOnPolicyViolation,
		Dialer:                dialer,
		Logger:                slog.Default(),
		OnMessage: func(env wsclient.Envelope) {
			if err := enc.Encode(env); err != nil {
				slog.Warn("failed to write message", slog.String("error", err.Error()))
			}
		},
		OnClose: func(info wsclient.CloseInfo) {
			if clientGivesUp(cfg, info) {
				select {
				case done <- info:
				default:
				}
			}
		},
	})
	defer client.Close()

	slog.Info("client starting",
		slog.String("url", cfg.URL),
		slog.Bool("reconnect", cfg.Reconnect),
		slog.Duration("reconnect_interval", cfg.ReconnectInterval),
	)
	client.Connect()

	var tick <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := clock.Real().NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("client stopped")
			return nil
		case info := <-done:
			if info.Code == websocket.ClosePolicyViolation {
				return fmt.Errorf("connection rejected: %s", info.Reason)
			}
			return nil
		case <-tick:
			if err := client.Send(map[string]string{"type": "ping"}); err != nil && !errors.Is(err, wsclient.ErrNotConnected) {
				slog.Warn("failed to send ping", slog.String("error", err.Error()))
			}
		}
	}
}
