// Package cleanup は保持期間を過ぎた通知とメール送信履歴の自動削除ジョブを提供する。
// 既読の通知と、送信済み・送信失敗のメールのみを対象とし、未読・送信待ちは残す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type target struct {
	name  string
	query string
}

var targets = []target{
	{
		name:  "notifications",
		query: `DELETE FROM notifications WHERE read = true AND created_at < now() - $1::interval`,
	},
	{
		name:  "email_notifications",
		query: `DELETE FROM email_notifications WHERE status IN ('sent', 'failed') AND created_at < now() - $1::interval`,
	},
}

// CleanupJob は保持期間を超過した行の削除ジョブ。冪等に実行できる。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合は180日を使う。
func NewCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 180
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Start はintervalごとにRunを実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラーはRun内でログ済み
			_ = j.Run(ctx)
		}
	}
}

// Run は保持期間を超過した既読通知と処理済みメールを削除する。
// 最初に失敗したテーブルで中断し、エラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	var total int64
	for _, t := range targets {
		result, err := j.db.ExecContext(ctx, t.query, interval)
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
			)
			return fmt.Errorf("%sのクリーンアップに失敗: %w", t.name, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			j.logger.Error("削除件数の取得に失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		total += deleted
		j.logger.Debug("テーブルをクリーンアップしました",
			slog.String("table", t.name),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
