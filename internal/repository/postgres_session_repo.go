package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/whispa/internal/model"
)

// expiredDeleteBatchSize は期限切れセッションを1文で削除する最大件数。
// 大量削除でsessionsの行ロックが長時間続かないよう分割する。
const expiredDeleteBatchSize = 1000

// PostgresSessionRepo はsessionsテーブルを参照・削除するリポジトリ。
// セッションの発行は外部の認証基盤が行うため、Createはテストと管理用途のみで使う。
type PostgresSessionRepo struct {
	db        *sql.DB
	batchSize int
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, batchSize: expiredDeleteBatchSize}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	const q = `
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, q, session.ID, session.UserID, session.ExpiresAt, session.CreatedAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションを返す。存在しない・期限切れはnil, nil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	const q = `
		SELECT id, user_id, expires_at, created_at
		FROM sessions
		WHERE id = $1 AND expires_at > now()`

	var s model.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &s, nil
}

// DeleteByID はログアウト時にセッションを削除する。存在しなくてもエラーにしない。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションをbatchSize件ずつ削除し、合計件数を返す。
// 途中で失敗した場合はそれまでの件数とエラーを返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE expires_at <= now()
			LIMIT $1
		)`

	var total int64
	for {
		result, err := r.db.ExecContext(ctx, q, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
		if n < int64(r.batchSize) {
			return total, nil
		}
	}
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
