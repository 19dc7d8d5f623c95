// Package events はドメインイベントの配信を提供する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hitoshi/whispa/internal/model"
)

// SubjectTodoCreated はTODO作成イベントのサブジェクト接尾辞。
const SubjectTodoCreated = "todo.created"

// Publisher はドメインイベントの配信インターフェース。
type Publisher interface {
	PublishTodoCreated(ctx context.Context, todo *model.Todo) error
}

// TodoCreatedEvent はTODO作成イベントのペイロード。
type TodoCreatedEvent struct {
	Todo       *model.Todo `json:"todo"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// Conn はPublisherが必要とするNATS接続の部分集合。
type Conn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher はNATSにイベントを配信するPublisher実装。
type NATSPublisher struct {
	conn   Conn
	prefix string
	now    func() time.Time
}

// NewNATSPublisher はNATSPublisherを生成する。
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, now: time.Now}
}

// Connect はNATSサーバーに接続する。再接続は無制限に試行する。
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// Subject は接頭辞を付与したサブジェクト名を返す。
func (p *NATSPublisher) Subject(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

// PublishTodoCreated はTODO作成イベントを配信する。
func (p *NATSPublisher) PublishTodoCreated(ctx context.Context, todo *model.Todo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(TodoCreatedEvent{Todo: todo, OccurredAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode todo created event: %w", err)
	}

	if err := p.conn.Publish(p.Subject(SubjectTodoCreated), data); err != nil {
		return fmt.Errorf("failed to publish todo created event: %w", err)
	}
	return nil
}

// NopPublisher は何も配信しないPublisher。NATS未設定時に使用する。
type NopPublisher struct{}

// PublishTodoCreated は何もしない。
func (NopPublisher) PublishTodoCreated(context.Context, *model.Todo) error { return nil }

// compile-time interface checks
var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = NopPublisher{}
	_ Conn      = (*nats.Conn)(nil)
)
