package model

import "time"

// Todo はユーザーごとのTODOレコードを表す。
// JSONフィールド名はクライアントとの互換のためcamelCaseとする。
type Todo struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTodo はTODO作成時の入力を表す。
// UserIDは常に認証済みユーザーのIDで上書きされ、クライアントからは指定できない。
type NewTodo struct {
	Title     string
	UserID    string
	Completed bool
}
