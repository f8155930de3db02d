// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 認証経路はデプロイモードごとに1つだけ埋まる:
// ローカル認証ではPasswordHashとSalt、外部IdP認証ではExternalID。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash *string
	Salt         *string
	ExternalID   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はローカルパスワード認証の情報を持つかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && u.Salt != nil && *u.PasswordHash != "" && *u.Salt != ""
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExternalUser は外部IdPのライフサイクルイベントから取り込むユーザー情報。
type ExternalUser struct {
	ExternalID string
	Name       string
	Email      string
}
