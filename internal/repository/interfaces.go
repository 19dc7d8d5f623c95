// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/whispa/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// List は作成日時順にユーザーを最大limit件取得する。
	List(ctx context.Context, limit int) ([]*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TodoRepository はTODOデータの永続化インターフェース。
type TodoRepository interface {
	// Create はTODOを作成し、DBが採番・補完した値を含むレコードを返す。
	// 行が返らなかった場合はnilを返す。
	Create(ctx context.Context, todo model.NewTodo) (*model.Todo, error)

	// ListByUserID はユーザーのTODO一覧を作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Todo, error)
}
