// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashは外部に公開してはならない。APIレスポンスへの変換はハンドラー層が行う。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSigninAt *time.Time // 初回サインイン前はnil
}
