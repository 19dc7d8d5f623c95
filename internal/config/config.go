package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はサーバー全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（セッションキャッシュ、任意）
	RedisURL        string
	SessionCacheTTL time.Duration

	// NATS（イベント配信、任意）
	NATSURL           string
	NATSSubjectPrefix string

	// Session
	SessionCleanupInterval time.Duration

	// WebSocket
	WSPath            string
	WSPingInterval    time.Duration
	WSPongWait        time.Duration
	WSMaxMessageBytes int64

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerHost string
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SessionCacheTTL = getEnvDuration("SESSION_CACHE_TTL", 5*time.Minute)
	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.NATSSubjectPrefix = getEnvString("NATS_SUBJECT_PREFIX", "whispa")
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.WSPath = getEnvString("WS_PATH", "/ws")
	cfg.WSPingInterval = getEnvDuration("WS_PING_INTERVAL", 25*time.Second)
	cfg.WSPongWait = getEnvDuration("WS_PONG_WAIT", 60*time.Second)
	cfg.WSMaxMessageBytes = getEnvInt64("WS_MAX_MESSAGE_BYTES", 65536)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerHost = getEnvString("SERVER_HOST", "0.0.0.0")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3001")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if !strings.HasPrefix(cfg.WSPath, "/") {
		return nil, fmt.Errorf("WS_PATH must start with '/': %q", cfg.WSPath)
	}
	if cfg.SessionCleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive: %s", cfg.SessionCleanupInterval)
	}
	if cfg.WSPongWait <= cfg.WSPingInterval {
		return nil, fmt.Errorf("WS_PONG_WAIT (%s) must be longer than WS_PING_INTERVAL (%s)", cfg.WSPongWait, cfg.WSPingInterval)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
