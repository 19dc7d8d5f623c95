package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig は再接続クライアント（clientサブコマンド）の設定を保持する。
// 優先順位は 環境変数 < 設定ファイル < コマンドラインフラグ。
type ClientConfig struct {
	URL                   string        `toml:"url"`
	SessionCookie         string        `toml:"session_cookie"`
	Reconnect             bool          `toml:"reconnect"`
	ReconnectInterval     time.Duration `toml:"-"`
	ReconnectIntervalText string        `toml:"reconnect_interval"`
	StopOnPolicyViolation bool          `toml:"stop_on_policy_violation"`
	PingInterval          time.Duration `toml:"-"`
	PingIntervalText      string        `toml:"ping_interval"`
}

// DefaultClientConfig は環境変数を反映したクライアント設定のデフォルト値を返す。
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:                   getEnvString("WHISPA_WS_URL", "ws://localhost:3001/ws"),
		SessionCookie:         getEnvString("WHISPA_SESSION_COOKIE", ""),
		Reconnect:             getEnvBool("WHISPA_RECONNECT", true),
		ReconnectInterval:     getEnvDuration("WHISPA_RECONNECT_INTERVAL", 3*time.Second),
		StopOnPolicyViolation: getEnvBool("WHISPA_STOP_ON_POLICY_VIOLATION", true),
		PingInterval:          getEnvDuration("WHISPA_PING_INTERVAL", 10*time.Second),
	}
}

// LoadClient はTOMLファイルからクライアント設定を読み込む。
// pathが空の場合はデフォルト値のみを返す。ファイルが存在しない場合はエラーを返す。
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat client config: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode client config %s: %w", path, err)
	}

	// 期間はTOML上では "3s" のような文字列で記述する
	if cfg.ReconnectIntervalText != "" {
		d, err := time.ParseDuration(cfg.ReconnectIntervalText)
		if err != nil {
			return nil, fmt.Errorf("invalid reconnect_interval %q: %w", cfg.ReconnectIntervalText, err)
		}
		cfg.ReconnectInterval = d
	}
	if cfg.PingIntervalText != "" {
		d, err := time.ParseDuration(cfg.PingIntervalText)
		if err != nil {
			return nil, fmt.Errorf("invalid ping_interval %q: %w", cfg.PingIntervalText, err)
		}
		cfg.PingInterval = d
	}

	return cfg, cfg.Validate()
}

// Validate はクライアント設定の妥当性を検証する。
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss: %q", c.URL)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive: %s", c.ReconnectInterval)
	}
	return nil
}
