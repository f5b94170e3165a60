// Package cleanup はWebhook受信監査ログの自動削除ジョブを提供する。
// 最終受信日時が保持期間（デフォルト90日）を超過した監査ログを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は監査ログの保持日数のデフォルト値。
const DefaultRetentionDays = 90

// EventPurger は指定日時より古い監査ログを削除するインターフェース。
type EventPurger interface {
	DeleteSeenBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した監査ログの自動削除ジョブ。
// 削除は冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	events        EventPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewCleanupJob(events EventPurger, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		events:        events,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run は最終受信日時がRetentionDays日前より古い監査ログを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.events.DeleteSeenBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("監査ログのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("監査ログのクリーンアップに失敗: %w", err)
	}

	j.logger.Info("監査ログのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
