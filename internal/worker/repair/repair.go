// Package repair は受講登録の修復ジョブを提供する。
// completedの購入のうち、ユーザー側・講座側どちらかの受講登録が欠けているものに
// 冪等な受講登録を再適用する。
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/edumarket/internal/metrics"
	"github.com/hitoshi/edumarket/internal/model"
	"github.com/hitoshi/edumarket/internal/repository"
)

const (
	// DefaultBatchSize は1回の実行で修復する購入の最大件数。
	DefaultBatchSize = 100
	// defaultMaxConcurrency は同時に修復する購入の数。
	defaultMaxConcurrency = 4
)

// Job は受講登録の修復ジョブ。
type Job struct {
	purchases      repository.PurchaseRepository
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
}

// NewJob はJobの新しいインスタンスを生成する。
// batchSizeが0以下の場合はDefaultBatchSizeを使用する。
func NewJob(purchases repository.PurchaseRepository, m metrics.MetricsCollector, logger *slog.Logger, batchSize int) *Job {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Job{
		purchases:      purchases,
		metrics:        m,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: defaultMaxConcurrency,
	}
}

// Run は受講登録が欠けたcompleted購入を最大batchSize件取得し、受講登録を再適用する。
// 個々の購入の修復失敗はログに記録して続行する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	drifted, err := j.purchases.ListEnrollmentDrift(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("修復対象の取得に失敗: %w", err)
	}
	if len(drifted) == 0 {
		j.logger.Debug("修復対象の受講登録はありません")
		return nil
	}

	var repaired, failed atomic.Int64
	sem := make(chan struct{}, j.maxConcurrency)
	var wg sync.WaitGroup

	for _, p := range drifted {
		wg.Add(1)
		sem <- struct{}{}

		go func(p *model.Purchase) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := j.purchases.CompleteWithEnrollment(ctx, p.ID); err != nil {
				failed.Add(1)
				j.logger.Error("受講登録の修復に失敗しました",
					slog.String("purchase_id", p.ID),
					slog.String("user_id", p.UserID),
					slog.String("course_id", p.CourseID),
					slog.String("error", err.Error()),
				)
				return
			}
			repaired.Add(1)
		}(p)
	}
	wg.Wait()

	j.metrics.RecordRepair(int(repaired.Load()), int(failed.Load()))
	j.logger.Warn("受講登録の修復が完了しました",
		slog.Int("drift_count", len(drifted)),
		slog.Int64("repaired_count", repaired.Load()),
		slog.Int64("failed_count", failed.Load()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
