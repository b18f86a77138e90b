// Package cleanup は期限切れトークンの自動削除ジョブを提供する。
// 有効期限を過ぎた発行済みリフレッシュトークンを削除する。
// ブラックリストの行はCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/socialapi/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TokenCleanupJob は期限切れトークンの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type TokenCleanupJob struct {
	db        Executor
	logger    *slog.Logger
	collector metrics.MetricsCollector
	// Grace は有効期限からの猶予期間。この期間を過ぎたトークンのみ削除する（デフォルト: 0）
	Grace time.Duration
}

// NewTokenCleanupJob は新しいTokenCleanupJobを生成する。
// collector がnilの場合はメトリクスを記録しない。
func NewTokenCleanupJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector) *TokenCleanupJob {
	return &TokenCleanupJob{
		db:        db,
		logger:    logger,
		collector: collector,
	}
}

// Run は有効期限を過ぎた outstanding_tokens を削除する。
func (j *TokenCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.Grace/time.Second))

	query := `DELETE FROM outstanding_tokens WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	if j.collector != nil {
		j.collector.RecordTokensCleaned(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("grace", j.Grace),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
