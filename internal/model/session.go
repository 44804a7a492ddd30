// Package model はドメインモデルを定義する。
package model

import "time"

// Session はユーザーのログインセッションを表す。
// トークン原文は保持せず、TokenHashにHMAC-SHA256ダイジェストのみを保存する。
// UserAgentとIPAddressは監査用のクライアントメタデータ。
type Session struct {
	ID             string
	UserID         string
	TokenHash      string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	LastActivityAt time.Time
	UserAgent      string
	IPAddress      string
}

// Expired は基準時刻nowにおいてセッションが期限切れかどうかを返す。
// 行がストアに残っていても、期限を過ぎたセッションは無効として扱う。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
