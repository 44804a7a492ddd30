// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/taskdeck/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
// サービス層はこのエラーを重複アカウントエラーに変換する。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。
	// メールアドレスが既に登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	// 大文字小文字を区別しない。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateLastSigninAt は最終サインイン日時を更新する。
	UpdateLastSigninAt(ctx context.Context, id string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// 期限切れ判定はサービス層の責務であり、リポジトリは期限切れの行もそのまま返す。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByTokenHash はトークンダイジェストでセッションを検索する。
	// 期限切れでも行が存在すれば返す。見つからない場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)

	// Touch はセッションの有効期限と最終アクティビティ日時を更新する。
	Touch(ctx context.Context, id string, expiresAt, lastActivityAt time.Time) error

	// DeleteByTokenHash はトークンダイジェストでセッションを削除する。
	// 対象が存在しない場合もエラーにしない。
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteExpired は指定日時より前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TaskRepository はタスクデータの永続化インターフェース。
type TaskRepository interface {
	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	// 所有権の判定はサービス層の責務であり、ここではuser_idで絞り込まない。
	FindByID(ctx context.Context, id string) (*model.Task, error)

	// ListByUserID はユーザーのタスク一覧を作成日時降順で返す。
	// completedがnilでない場合は完了状態で絞り込む。
	ListByUserID(ctx context.Context, userID string, completed *bool) ([]*model.Task, error)

	// Update はタスクを上書き更新する。
	Update(ctx context.Context, task *model.Task) error

	// Delete は指定IDのタスクを削除する。
	Delete(ctx context.Context, id string) error
}
