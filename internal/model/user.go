// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Identity はWebSocket接続に紐付く認証済みユーザー情報を表す。
// Session Verifierのみが生成し、接続に一度付与された後は変更しない。
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IdentityFromUser はUserから接続用のIdentityを生成する。
func IdentityFromUser(u *User) *Identity {
	if u == nil {
		return nil
	}
	return &Identity{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
