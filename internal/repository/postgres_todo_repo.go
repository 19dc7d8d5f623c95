package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/whispa/internal/model"
)

// PostgresTodoRepo はPostgreSQLを使用したTODOリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

// Create はTODOを作成し、RETURNINGで取得したレコードを返す。
// id、created_at、updated_atはDB側で補完される。
func (r *PostgresTodoRepo) Create(ctx context.Context, in model.NewTodo) (*model.Todo, error) {
	todo := &model.Todo{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO todos (title, completed, user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, title, completed, user_id, created_at, updated_at`,
		in.Title, in.Completed, in.UserID,
	).Scan(&todo.ID, &todo.Title, &todo.Completed, &todo.UserID, &todo.CreatedAt, &todo.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert todo: %w", err)
	}

	return todo, nil
}

// ListByUserID はユーザーのTODO一覧を作成日時の昇順で返す。
func (r *PostgresTodoRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Todo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, completed, user_id, created_at, updated_at
		 FROM todos
		 WHERE user_id = $1
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	todos := []*model.Todo{}
	for rows.Next() {
		t := &model.Todo{}
		if err := rows.Scan(&t.ID, &t.Title, &t.Completed, &t.UserID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}

	return todos, nil
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
