// Package expiry は制限時間を過ぎた受験中のスキル評価を期限切れにするジョブを提供する。
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/recruitman/internal/repository"
)

// Recorder は期限切れ件数のメトリクス記録先。
type Recorder interface {
	AssessmentsExpired(n int64)
}

// Sweeper は受験中の結果を定期的に走査し、制限時間を過ぎたものをexpiredにする。
type Sweeper struct {
	results  repository.ResultRepository
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper はSweeperを生成する。recorderはnilでもよい。
func NewSweeper(results repository.ResultRepository, recorder Recorder, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{results: results, recorder: recorder, logger: logger, now: time.Now}
}

// Start はintervalごとにRunOnceを実行する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("受験期限切れジョブを開始しました", slog.Duration("interval", interval))

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("受験期限切れジョブを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("受験期限切れジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は期限切れの結果を更新し、件数を返す。冪等。
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.results.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("期限切れ受験結果の更新に失敗しました: %w", err)
	}
	if n > 0 {
		if s.recorder != nil {
			s.recorder.AssessmentsExpired(n)
		}
		s.logger.Info("受験中の結果を期限切れにしました", slog.Int64("expired_count", n))
	}
	return n, nil
}
