// Package worker はバックグラウンドジョブのスケジューリングを提供する。
// 各ジョブはcron式で登録し、起動直後に1回実行したあと、スケジュールに従って実行する。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job はスケジューラから実行されるバックグラウンドジョブ。
type Job interface {
	Run(ctx context.Context) error
}

type entry struct {
	name string
	spec string
	job  Job
}

// Scheduler はcron式に従ってジョブを実行する。
// 同じジョブの実行が重なった場合、後の実行はスキップする。
type Scheduler struct {
	parser cron.Parser
	logger *slog.Logger
	jobs   []entry
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// cron式は5フィールド（分 時 日 月 曜日）と @every 等の記述子を受け付ける。
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
	}
}

// Register はジョブを登録する。cron式が不正な場合はエラーを返す。
func (s *Scheduler) Register(name, spec string, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression for %q: %w", name, err)
	}
	s.jobs = append(s.jobs, entry{name: name, spec: spec, job: job})
	return nil
}

// Start は登録済みのジョブを起動直後に1回ずつ実行し、その後cronを開始する。
// コンテキストがキャンセルされるまでブロックし、実行中のジョブの完了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		cron.WithLogger(logger),
	)

	for _, e := range s.jobs {
		e := e
		if _, err := c.AddFunc(e.spec, func() { s.run(ctx, e) }); err != nil {
			return fmt.Errorf("failed to register job %q: %w", e.name, err)
		}
		s.logger.Info("ジョブを登録しました",
			slog.String("job", e.name),
			slog.String("schedule", e.spec),
		)
	}

	for _, e := range s.jobs {
		s.run(ctx, e)
	}

	c.Start()
	<-ctx.Done()

	s.logger.Info("スケジューラを停止します")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := e.job.Run(ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", e.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("ジョブが完了しました",
		slog.String("job", e.name),
		slog.Duration("duration", time.Since(start)),
	)
}

// cronLogger はcronの内部ログをslogに出力する。
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err.Error())...)
}
