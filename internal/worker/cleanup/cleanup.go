// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 有効期限を猶予期間（デフォルト24時間）以上過ぎたセッション行を
// 日次バッチで削除する。検証時の遅延削除とは独立であり、
// このジョブが動かなくても期限切れセッションが受理されることはない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionDeleter は期限切れセッションの一括削除を抽象化するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	sessions    SessionDeleter
	logger      *slog.Logger
	GracePeriod time.Duration // 期限切れ後に行を残す猶予期間（デフォルト: 24時間）

	// テストから時刻を注入するためのフック
	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの猶予期間は24時間。
func NewCleanupJob(sessions SessionDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:    sessions,
		logger:      logger,
		GracePeriod: 24 * time.Hour,
		now:         time.Now,
	}
}

// Run は有効期限を猶予期間以上過ぎたセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.GracePeriod)

	deletedCount, err := j.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
