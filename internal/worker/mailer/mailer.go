// Package mailer はメール送信キューを処理するバックグラウンドワーカーを提供する。
// 送信待ちのメールを排他的に取得してSMTPで送信し、結果をキューに記録する。
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/repository"
)

// Sender はメール1通の送信インターフェース。
type Sender interface {
	Send(ctx context.Context, e *model.EmailNotification) error
}

// Recorder は送信結果のメトリクス記録先。
type Recorder interface {
	EmailSent()
	EmailFailed()
}

type noopRecorder struct{}

func (noopRecorder) EmailSent()   {}
func (noopRecorder) EmailFailed() {}

const defaultBatchSize = 50

// Worker はメール送信キューを定期的に処理する。
type Worker struct {
	store       repository.Store
	sender      Sender
	recorder    Recorder
	logger      *slog.Logger
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

// Stats は1サイクルの処理件数。
type Stats struct {
	Sent    int
	Retried int
	Failed  int
}

// NewWorker はWorkerを生成する。
// batchSize・maxAttemptsが0以下の場合は既定値を使う。
func NewWorker(store repository.Store, sender Sender, recorder Recorder, logger *slog.Logger, batchSize, maxAttempts int) *Worker {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		store:       store,
		sender:      sender,
		recorder:    recorder,
		logger:      logger,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Start はintervalごとにRunOnceを実行する。ctxがキャンセルされるまで継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("メール送信ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", w.batchSize),
	)

	w.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("メール送信ワーカーを停止しました")
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("メール送信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は送信対象になっている送信待ちのメールを1バッチ分処理する。
// 取得から状態更新までを1つのトランザクションで行い、並行するワーカーとは行ロックで排他する。
// 再送間隔に達していないメールは取得段階で除外する。
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	start := w.now()
	var stats Stats

	err := w.store.InTx(ctx, func(r *repository.Repos) error {
		stats = Stats{}
		emails, err := r.Emails.ClaimPending(ctx, start.UTC(), w.batchSize)
		if err != nil {
			return fmt.Errorf("送信待ちメールの取得に失敗しました: %w", err)
		}

		for _, e := range emails {
			sendErr := w.sender.Send(ctx, e)
			if sendErr == nil {
				if err := r.Emails.MarkSent(ctx, e.ID, w.now().UTC()); err != nil {
					return fmt.Errorf("メール送信状態の更新に失敗しました: %w", err)
				}
				stats.Sent++
				continue
			}

			attempts := e.Attempts + 1
			final := ClassifySendError(sendErr) == SendResultStop || attempts >= w.maxAttempts
			if final {
				err = r.Emails.MarkFailed(ctx, e.ID, sendErr.Error())
				stats.Failed++
			} else {
				err = r.Emails.MarkRetry(ctx, e.ID, sendErr.Error(), NextAttemptAt(e.CreatedAt, attempts).UTC())
				stats.Retried++
			}
			if err != nil {
				return fmt.Errorf("メール送信状態の更新に失敗しました: %w", err)
			}
			w.logger.Warn("メール送信に失敗しました",
				slog.String("email_id", e.ID),
				slog.String("type", string(e.Type)),
				slog.Int("attempts", attempts),
				slog.Bool("final", final),
				slog.String("error", sendErr.Error()),
			)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	for range stats.Sent {
		w.recorder.EmailSent()
	}
	for range stats.Failed {
		w.recorder.EmailFailed()
	}

	if stats != (Stats{}) {
		w.logger.Info("メール送信サイクルが完了しました",
			slog.Int("sent", stats.Sent),
			slog.Int("retried", stats.Retried),
			slog.Int("failed", stats.Failed),
			slog.Float64("duration_ms", float64(w.now().Sub(start).Milliseconds())),
		)
	}
	return stats, nil
}
