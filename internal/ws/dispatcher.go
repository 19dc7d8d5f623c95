package ws

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hitoshi/whispa/internal/clock"
	"github.com/hitoshi/whispa/internal/metrics"
	"github.com/hitoshi/whispa/internal/model"
)

//go:embed schema/*.json
var schemaFS embed.FS

const createTodoSchemaURL = "schema/create_todo.json"

// メッセージ種別メトリクスのラベル。未知の種別はechoにまとめる。
const (
	labelInvalid         = "invalid"
	labelUnauthenticated = "unauthenticated"
)

// TodoCreator はcreate_todoが呼び出す永続化ゲートウェイ。
type TodoCreator interface {
	Create(ctx context.Context, in model.NewTodo) (*model.Todo, error)
}

// Dispatcher は受信フレームを種別ごとに処理し、応答を1つだけ返す。
type Dispatcher struct {
	todos      TodoCreator
	clock      clock.Clock
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	createTodo *jsonschema.Schema
}

// NewDispatcher はDispatcherを生成する。埋め込みスキーマのコンパイルに失敗した場合はエラーを返す。
func NewDispatcher(todos TodoCreator, clk clock.Clock, collector metrics.MetricsCollector, logger *slog.Logger) (*Dispatcher, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := compileSchema(createTodoSchemaURL)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		todos:      todos,
		clock:      clk,
		metrics:    collector,
		logger:     logger,
		createTodo: schema,
	}, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Dispatch は1フレームを処理し、送信すべき応答を返す。
// 戻り値は常に1つで、nilになることはない。
func (d *Dispatcher) Dispatch(ctx context.Context, c *Connection, frame []byte) (reply any) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic recovered in dispatcher",
				slog.String("conn_id", c.ID()),
				slog.Any("panic", rec),
			)
			reply = newError(MsgProcessFailed)
		}
	}()

	envelope, msgType, err := decodeEnvelope(frame)
	if err != nil {
		d.metrics.RecordMessage(labelInvalid)
		d.logger.Warn("failed to decode message",
			slog.String("conn_id", c.ID()),
			slog.String("error", err.Error()),
		)
		return newError(MsgProcessFailed)
	}

	identity := c.Identity()
	if identity == nil {
		d.metrics.RecordMessage(labelUnauthenticated)
		return newError(MsgNotAuthenticated)
	}

	switch msgType {
	case TypePing:
		d.metrics.RecordMessage(TypePing)
		return PongMessage{Type: TypePong, Timestamp: FormatTimestamp(d.clock.Now())}
	case TypeCreateTodo:
		d.metrics.RecordMessage(TypeCreateTodo)
		return d.handleCreateTodo(ctx, c, identity, frame)
	default:
		d.metrics.RecordMessage(TypeEcho)
		return EchoMessage{
			Type:      TypeEcho,
			Original:  envelope,
			Timestamp: FormatTimestamp(d.clock.Now()),
		}
	}
}

func (d *Dispatcher) handleCreateTodo(ctx context.Context, c *Connection, identity *model.Identity, frame []byte) any {
	title, ok := d.validTitle(frame)
	if !ok {
		return newError(MsgInvalidTodoTitle)
	}

	// userIdは常に接続のIdentityから取り、クライアントの値は使わない
	todo, err := d.todos.Create(ctx, model.NewTodo{
		Title:     title,
		UserID:    identity.ID,
		Completed: false,
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case model.ErrCodeInvalidTodoTitle:
				return newError(MsgInvalidTodoTitle)
			case model.ErrCodeTodoCreateFailed:
				return newError(MsgTodoCreateFailed)
			}
		}
		d.logger.Error("failed to create todo",
			slog.String("conn_id", c.ID()),
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return newError(MsgProcessFailed)
	}
	if todo == nil {
		return newError(MsgTodoCreateFailed)
	}

	return TodoCreatedMessage{Type: TypeTodoCreated, Todo: todo}
}

// validTitle はフレームをcreate_todoスキーマで検証し、タイトルを返す。
func (d *Dispatcher) validTitle(frame []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", false
	}

	if err := d.createTodo.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			d.logger.Debug("create_todo rejected by schema", slog.String("error", ve.Error()))
		}
		return "", false
	}

	obj, _ := doc.(map[string]any)
	title, ok := obj["title"].(string)
	return title, ok && title != ""
}

// decodeEnvelope はフレームをJSONオブジェクトとして解釈し、封筒とtype値を返す。
// typeが欠落または文字列以外の場合は空文字を返す。
func decodeEnvelope(frame []byte) (json.RawMessage, string, error) {
	if !utf8.Valid(frame) {
		return nil, "", fmt.Errorf("frame is not valid UTF-8")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, "", fmt.Errorf("frame is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, "", fmt.Errorf("frame is null")
	}

	var msgType string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &msgType); err != nil {
			msgType = ""
		}
	}

	return json.RawMessage(bytes.TrimSpace(frame)), msgType, nil
}
