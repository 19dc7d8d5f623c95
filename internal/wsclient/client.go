// Package wsclient は自動再接続付きのWebSocketクライアントを提供する。
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/whispa/internal/clock"
	"github.com/hitoshi/whispa/internal/metrics"
)

// DefaultReconnectInterval は再接続までの固定待ち時間。
const DefaultReconnectInterval = 3000 * time.Millisecond

// ErrNotConnected は接続が開いていない状態でSendを呼んだ場合のエラー。
var ErrNotConnected = errors.New("wsclient: not connected")

// Status はクライアントの接続状態。
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Envelope は受信したメッセージ。JSONとして解釈できないものは
// {"type":"text","data":<受信文字列>} に置き換える。
type Envelope map[string]any

// Type はtypeフィールドを返す。
func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// CloseInfo は接続終了時の情報。
type CloseInfo struct {
	Code     int
	Reason   string
	WasClean bool
}

// Dialer はWebSocket接続を確立する。*websocket.Dialerが満たす。
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options はクライアントの設定とコールバック。
type Options struct {
	URL    string
	Header http.Header

	Reconnect             bool
	ReconnectInterval     time.Duration
	StopOnPolicyViolation bool // 1008で閉じられた場合は再接続しない
	WriteWait             time.Duration

	OnOpen    func()
	OnMessage func(Envelope)
	OnClose   func(CloseInfo)
	OnError   func(error)

	Dialer  Dialer
	Clock   clock.Clock
	Metrics metrics.MetricsCollector
	Logger  *slog.Logger
}

// NewDialer はセッションCookieをCookie Jarに保持するDialerを生成する。
func NewDialer(rawURL, sessionCookie string) (*websocket.Dialer, error) {
	d := *websocket.DefaultDialer
	if sessionCookie == "" {
		return &d, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	// Jarはhttp(s)スキームのURLで参照される
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	jar.SetCookies(u, []*http.Cookie{{Name: "session_id", Value: sessionCookie, Path: "/"}})
	d.Jar = jar
	return &d, nil
}

type eventKind int

const (
	eventOpen eventKind = iota
	eventMessage
	eventClose
	eventError
)

type event struct {
	kind  eventKind
	gen   uint64
	data  []byte
	close CloseInfo
	err   error
}

// Client は切断時に固定間隔で再接続するWebSocketクライアント。
// コールバックは直列に呼び出され、同時に実行されることはない。
type Client struct {
	opts    Options
	clock   clock.Clock
	dialer  Dialer
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	// cbMu は状態遷移とコールバック呼び出しを直列化する
	cbMu sync.Mutex

	mu         sync.Mutex
	status     Status
	gen        uint64
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	timer      *clock.Timer
	closed     bool
	messages   []Envelope

	writeMu sync.Mutex
}

// New はClientを生成する。Connectを呼ぶまで接続しない。
func New(opts Options) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}

	c := &Client{
		opts:    opts,
		clock:   opts.Clock,
		dialer:  opts.Dialer,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		status:  StatusDisconnected,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Status は現在の状態を返す。
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Messages は受信したメッセージの一覧のコピーを返す。
func (c *Client) Messages() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.messages))
	copy(out, c.messages)
	return out
}

// ClearMessages は受信メッセージの記録を空にする。
func (c *Client) ClearMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Connect は新しい接続を開始する。接続処理はバックグラウンドで行い、結果はコールバックで通知する。
// 既存の接続や予約済みの再接続がある場合は置き換える。Close後は何もしない。
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.stopTimerLocked()
	if c.cancelDial != nil {
		c.cancelDial()
	}
	old := c.conn
	c.conn = nil
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.status = StatusConnecting
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	c.logger.Debug("websocket connecting", slog.String("url", c.opts.URL), slog.Uint64("generation", gen))
	go c.run(ctx, gen)
}

// Disconnect は予約済みの再接続を取り消し、接続を閉じてdisconnectedにする。
// 以降はConnectを呼ぶまで自動再接続しない。
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.detachLocked()
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.closeConn(conn)
}

// Close はクライアントを破棄する。以降のタイマーや接続イベントはすべて無視される。
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.detachLocked()
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.closeConn(conn)
}

// Send は接続が開いている場合にpayloadを送信する。
// 文字列と[]byteはそのまま、それ以外はJSONに変換して送る。
// 接続が開いていない場合はErrNotConnectedを返す。
func (c *Client) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()
	if conn == nil || status != StatusConnected {
		return ErrNotConnected
	}

	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		data = b
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// detachLocked は世代を進めて現在の接続とタイマーを切り離す。c.muを保持して呼ぶ。
func (c *Client) detachLocked() *websocket.Conn {
	c.gen++
	c.stopTimerLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	conn.Close()
}

// run は1世代分の接続を確立し、終了するまで受信を続ける。
func (c *Client) run(ctx context.Context, gen uint64) {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		c.dispatch(event{kind: eventError, gen: gen, err: err})
		c.dispatch(event{kind: eventClose, gen: gen, close: CloseInfo{Code: websocket.CloseAbnormalClosure}})
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.cancelDial = nil
	c.mu.Unlock()

	c.dispatch(event{kind: eventOpen, gen: gen})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// 1006はクローズフレームを受け取っていないので、切断エラーとして扱う
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				c.dispatch(event{kind: eventClose, gen: gen, close: CloseInfo{
					Code:     ce.Code,
					Reason:   ce.Text,
					WasClean: true,
				}})
				return
			}
			c.dispatch(event{kind: eventError, gen: gen, err: err})
			c.dispatch(event{kind: eventClose, gen: gen, close: CloseInfo{Code: websocket.CloseAbnormalClosure}})
			return
		}
		c.dispatch(event{kind: eventMessage, gen: gen, data: data})
	}
}

// dispatch は接続イベントを状態遷移とコールバックに変換する。
// 古い世代のイベントとClose後のイベントは無視する。
func (c *Client) dispatch(ev event) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	if ev.gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}

	switch ev.kind {
	case eventOpen:
		c.status = StatusConnected
		c.mu.Unlock()
		c.logger.Info("websocket connected", slog.String("url", c.opts.URL))
		if c.opts.OnOpen != nil {
			c.opts.OnOpen()
		}

	case eventMessage:
		env := decodeEnvelope(ev.data)
		c.messages = append(c.messages, env)
		c.mu.Unlock()
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(env)
		}

	case eventError:
		c.status = StatusError
		c.mu.Unlock()
		c.logger.Warn("websocket error", slog.String("error", ev.err.Error()))
		if c.opts.OnError != nil {
			c.opts.OnError(ev.err)
		}

	case eventClose:
		c.status = StatusDisconnected
		c.conn = nil
		c.mu.Unlock()
		c.logger.Info("websocket closed",
			slog.Int("code", ev.close.Code),
			slog.String("reason", ev.close.Reason),
		)
		if c.opts.OnClose != nil {
			c.opts.OnClose(ev.close)
		}
		c.scheduleReconnect(ev.gen, ev.close)

	default:
		c.mu.Unlock()
	}
}

// scheduleReconnect は設定に応じて固定間隔後の再接続を予約する。
func (c *Client) scheduleReconnect(gen uint64, info CloseInfo) {
	if !c.opts.Reconnect {
		return
	}
	if c.opts.StopOnPolicyViolation && info.Code == websocket.ClosePolicyViolation {
		c.logger.Warn("connection rejected by server, not reconnecting", slog.String("reason", info.Reason))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// コールバック内でDisconnectやConnectが呼ばれた場合は予約しない
	if c.gen != gen || c.closed {
		return
	}
	c.stopTimerLocked()
	c.timer = c.clock.AfterFunc(c.opts.ReconnectInterval, func() {
		c.mu.Lock()
		if c.gen != gen || c.closed {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()

		c.metrics.RecordClientReconnect()
		c.Connect()
	})
}

func decodeEnvelope(data []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env == nil {
		return Envelope{"type": "text", "data": string(data)}
	}
	return env
}
