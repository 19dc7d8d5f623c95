// Package ws はセッション認証付きのWebSocketエンドポイントとメッセージプロトコルを提供する。
package ws

import (
	"encoding/json"
	"time"

	"github.com/hitoshi/whispa/internal/model"
)

// 受信メッセージ種別
const (
	TypePing       = "ping"
	TypeCreateTodo = "create_todo"
)

// 送信メッセージ種別
const (
	TypeAuthenticated = "authenticated"
	TypeError         = "error"
	TypePong          = "pong"
	TypeTodoCreated   = "todo_created"
	TypeEcho          = "echo"
)

// クライアントに返すエラーメッセージ
const (
	MsgUnauthorized     = "Unauthorized"
	MsgNotAuthenticated = "Not authenticated"
	MsgInvalidTodoTitle = "Invalid todo title"
	MsgTodoCreateFailed = "Failed to create todo"
	MsgProcessFailed    = "Failed to process message"
)

// クローズ理由
const (
	ReasonUnauthorized  = "Unauthorized"
	ReasonInternalError = "Internal error"
	ReasonShutdown      = "Server shutting down"
)

// TimestampLayout はpong/echoのtimestampの書式。UTCのミリ秒精度ISO-8601。
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp はtimestampフィールド用に時刻を整形する。
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ErrorMessage はエラー応答。
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AuthenticatedMessage は認証成功時に一度だけ送る通知。
type AuthenticatedMessage struct {
	Type string          `json:"type"`
	User *model.Identity `json:"user"`
}

// PongMessage はpingへの応答。
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// TodoCreatedMessage はcreate_todoの成功応答。
type TodoCreatedMessage struct {
	Type string      `json:"type"`
	Todo *model.Todo `json:"todo"`
}

// EchoMessage は未知の種別に対する応答。Originalは受信した封筒をそのまま保持する。
type EchoMessage struct {
	Type      string          `json:"type"`
	Original  json.RawMessage `json:"original"`
	Timestamp string          `json:"timestamp"`
}

func newError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

func newAuthenticated(identity *model.Identity) AuthenticatedMessage {
	return AuthenticatedMessage{Type: TypeAuthenticated, User: identity}
}
