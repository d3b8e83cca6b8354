package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/recruitman/internal/model"
)

// Sink は通知とメールキューの書き込み先。
// 主たる書き込みと同じトランザクションに束縛された実装を渡す。
type Sink interface {
	Savepoint(ctx context.Context, name string, fn func() error) error
	InsertNotification(ctx context.Context, n *model.Notification) error
	BroadcastNotification(ctx context.Context, tmpl *model.Notification, afterID string, limit int) ([]*model.Notification, bool, error)
	QueueEmail(ctx context.Context, e *model.EmailNotification) error
	RecipientEmail(ctx context.Context, userID string) (string, error)
}

// Recorder はファンアウトのメトリクス記録先。
type Recorder interface {
	NotificationsCreated(t model.NotificationType, n int)
	EmailQueued(t model.NotificationType)
	FanoutFailed(event string)
}

type noopRecorder struct{}

func (noopRecorder) NotificationsCreated(model.NotificationType, int) {}
func (noopRecorder) EmailQueued(model.NotificationType)               {}
func (noopRecorder) FanoutFailed(string)                              {}

const (
	defaultBroadcastBatch = 500
	defaultBroadcastMax   = 100000
	savepointName         = "fanout"
)

// Dispatcher は下書きを通知・メールキューの行として挿入する。
// 挿入の失敗はセーブポイントまで巻き戻してログに残し、呼び出し元には伝えない。
type Dispatcher struct {
	recorder       Recorder
	logger         *slog.Logger
	broadcastBatch int
	broadcastMax   int
	now            func() time.Time
}

// NewDispatcher はDispatcherを生成する。
// recorderがnilの場合はメトリクスを記録しない。batch・limitが0以下の場合は既定値を使う。
func NewDispatcher(recorder Recorder, logger *slog.Logger, batch, limit int) *Dispatcher {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = defaultBroadcastBatch
	}
	if limit <= 0 {
		limit = defaultBroadcastMax
	}
	return &Dispatcher{
		recorder:       recorder,
		logger:         logger,
		broadcastBatch: batch,
		broadcastMax:   limit,
		now:            time.Now,
	}
}

// Dispatch は下書きをsinkに書き込み、作成した通知を返す（一斉配信分を含む）。
// 返した通知はコミット後のリアルタイム配信に使う。
// 失敗時はnilを返し、主たる書き込みはそのまま継続できる。
func (d *Dispatcher) Dispatch(ctx context.Context, sink Sink, drafts []Draft) []*model.Notification {
	if len(drafts) == 0 {
		return nil
	}

	var created []*model.Notification
	var counts map[model.NotificationType]int
	var queued []model.NotificationType

	err := sink.Savepoint(ctx, savepointName, func() error {
		created = nil
		counts = make(map[model.NotificationType]int)
		queued = nil

		for _, draft := range drafts {
			if draft.Broadcast {
				ns, err := d.broadcast(ctx, sink, draft)
				if err != nil {
					return err
				}
				created = append(created, ns...)
				counts[draft.Type] += len(ns)
				continue
			}

			n := d.notification(draft, draft.Recipient)
			if err := sink.InsertNotification(ctx, n); err != nil {
				return fmt.Errorf("通知の作成に失敗しました: %w", err)
			}
			created = append(created, n)
			counts[draft.Type]++

			if draft.Email == nil {
				continue
			}
			addr, err := sink.RecipientEmail(ctx, draft.Recipient)
			if err != nil {
				return fmt.Errorf("宛先メールアドレスの取得に失敗しました: %w", err)
			}
			if addr == "" {
				d.logger.Info("メールアドレス未登録のためメール送信をスキップしました",
					slog.String("user_id", draft.Recipient),
					slog.String("type", string(draft.Type)),
				)
				continue
			}
			if err := sink.QueueEmail(ctx, d.email(draft, addr)); err != nil {
				return fmt.Errorf("メール送信キューへの追加に失敗しました: %w", err)
			}
			queued = append(queued, draft.Type)
		}
		return nil
	})
	if err != nil {
		event := string(drafts[0].Type)
		d.recorder.FanoutFailed(event)
		d.logger.Error("通知のファンアウトに失敗しました",
			slog.String("event", event),
			slog.Int("draft_count", len(drafts)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	for t, n := range counts {
		d.recorder.NotificationsCreated(t, n)
	}
	for _, t := range queued {
		d.recorder.EmailQueued(t)
	}
	return created
}

// broadcast は採用担当者以外の全員への通知をキーセットページングで挿入する。
// 上限に達した時点で対象者が残っている場合は打ち切りログに残す。
func (d *Dispatcher) broadcast(ctx context.Context, sink Sink, draft Draft) ([]*model.Notification, error) {
	tmpl := d.notification(draft, "")
	var created []*model.Notification
	afterID := ""

	for {
		limit := min(d.broadcastBatch, d.broadcastMax-len(created))
		ns, more, err := sink.BroadcastNotification(ctx, tmpl, afterID, limit)
		if err != nil {
			return created, fmt.Errorf("一斉通知の作成に失敗しました: %w", err)
		}
		created = append(created, ns...)
		if !more || len(ns) == 0 {
			return created, nil
		}
		if len(created) >= d.broadcastMax {
			break
		}
		afterID = ns[len(ns)-1].UserID
	}

	d.logger.Warn("一斉通知の上限に達したため配信を打ち切りました",
		slog.String("type", string(draft.Type)),
		slog.String("related_id", draft.RelatedID),
		slog.Int("max", d.broadcastMax),
	)
	return created, nil
}

func (d *Dispatcher) notification(draft Draft, recipient string) *model.Notification {
	return &model.Notification{
		ID:        uuid.New().String(),
		UserID:    recipient,
		Type:      draft.Type,
		Title:     draft.Title,
		Content:   draft.Content,
		RelatedID: draft.RelatedID,
		CreatedAt: d.now().UTC(),
	}
}

func (d *Dispatcher) email(draft Draft, addr string) *model.EmailNotification {
	now := d.now().UTC()
	return &model.EmailNotification{
		ID:            uuid.New().String(),
		UserID:        draft.Recipient,
		Type:          draft.Type,
		Recipient:     addr,
		Subject:       draft.Email.Subject,
		Content:       draft.Email.Body,
		Status:        model.EmailStatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
}
