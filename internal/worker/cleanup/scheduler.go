package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job はスケジューラから定期実行されるジョブ。
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler はcron式に従ってジョブを定期実行する。
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler はSchedulerを生成する。
// 前回の実行が終わっていない場合、次の実行はスキップされる。
func NewScheduler(logger *slog.Logger) *Scheduler {
	cl := &slogCronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add はジョブをスケジュールに登録する。
// spec は標準の5フィールド形式または "@every 1h" などの記述子を受け付ける。
func (s *Scheduler) Add(ctx context.Context, name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := job.Run(ctx); err != nil {
			s.logger.Error("scheduled job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	s.logger.Info("scheduled job registered",
		slog.String("job", name),
		slog.String("schedule", spec),
	)
	return nil
}

// Start はスケジューラを起動し、ctxがキャンセルされるまでブロックする。
// 終了時は実行中のジョブの完了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// slogCronLogger はcron.Loggerをslogに橋渡しする。
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
