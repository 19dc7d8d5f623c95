package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/whispa/internal/model"
)

// State は接続のライフサイクル上の状態。
type State int

const (
	StateUpgrading State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUpgrading:
		return "upgrading"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection は1本のWebSocket接続の状態を保持する。
// アップグレード時のリクエストはハンドシェイク認証のためそのまま保持する。
// Identityは認証時に一度だけ付与され、以降は変更されない。
type Connection struct {
	id       string
	request  *http.Request
	conn     *websocket.Conn
	openedAt time.Time

	mu       sync.Mutex
	state    State
	identity *model.Identity
}

// NewConnection はアップグレード直後の接続を生成する。connはテストではnilでもよい。
func NewConnection(id string, r *http.Request, conn *websocket.Conn, openedAt time.Time) *Connection {
	return &Connection{
		id:       id,
		request:  r,
		conn:     conn,
		openedAt: openedAt,
		state:    StateUpgrading,
	}
}

// ID は接続IDを返す。
func (c *Connection) ID() string { return c.id }

// Request はアップグレード時のリクエストを返す。
func (c *Connection) Request() *http.Request { return c.request }

// OpenedAt は接続の開始時刻を返す。
func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// State は現在の状態を返す。
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity は認証済みユーザーを返す。未認証の場合はnil。
func (c *Connection) Identity() *model.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// BeginAuthentication はUpgradingからAuthenticatingへ遷移する。
func (c *Connection) BeginAuthentication() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUpgrading {
		return fmt.Errorf("cannot begin authentication in state %s", c.state)
	}
	c.state = StateAuthenticating
	return nil
}

// Authenticate はIdentityを付与してAuthenticatedへ遷移する。
// 付与できるのはAuthenticating状態で一度だけ。
func (c *Connection) Authenticate(identity *model.Identity) error {
	if identity == nil {
		return fmt.Errorf("identity is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return fmt.Errorf("connection %s is already authenticated", c.id)
	}
	if c.state != StateAuthenticating {
		return fmt.Errorf("cannot authenticate in state %s", c.state)
	}
	c.identity = identity
	c.state = StateAuthenticated
	return nil
}

// Reject はAuthenticatingからRejectedへ遷移する。
func (c *Connection) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticating {
		return fmt.Errorf("cannot reject in state %s", c.state)
	}
	c.state = StateRejected
	return nil
}

// MarkClosed はClosedへ遷移し、直前の状態を返す。どの状態からでも遷移できる。
func (c *Connection) MarkClosed() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = StateClosed
	return prev
}

// writeJSON はテキストフレームとしてvを送信する。
// 送信は接続ごとの読み取りゴルーチンからのみ行う。
func (c *Connection) writeJSON(v any, wait time.Duration) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// writeClose はクローズフレームを送信する。WriteControlは他の書き込みと並行して呼べる。
func (c *Connection) writeClose(code int, reason string, wait time.Duration) error {
	return c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wait),
	)
}
