// Package realtime は利用者ごとの変更通知をリアルタイムに配信する。
// Redis pub/sub を使い、未設定の場合は何もしない実装に切り替える。
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
)

// EventType は配信イベントの種類。
type EventType string

const (
	EventNotification EventType = "notification"
	EventMessage      EventType = "message"
)

// Event は1件の配信イベント。Dataは行のJSON表現。
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent はvをJSONにしてイベントを作る。
func NewEvent(t EventType, v any) (Event, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s event: %w", t, err)
	}
	return Event{Type: t, Data: raw}, nil
}

// Publisher は利用者宛てのイベントを発行する。
type Publisher interface {
	Publish(ctx context.Context, userID string, ev Event) error
}

// Subscriber は利用者宛てのイベントを購読する。
// 返したチャネルはctxの終了かcancelの呼び出しで閉じられる。
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error)
}

// Noop は何も配信しないPublisher。
type Noop struct{}

// Publish は何もしない。
func (Noop) Publish(context.Context, string, Event) error { return nil }

var _ Publisher = Noop{}

type notificationPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	RelatedID string    `json:"related_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type messagePayload struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	ApplicationID string    `json:"application_id,omitempty"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// PublishNotifications はコミット済みの通知を受信者に配信する。
// 配信の失敗はログに残すだけで呼び出し元には返さない。
func PublishNotifications(ctx context.Context, p Publisher, logger *slog.Logger, ns []*model.Notification) {
	for _, n := range ns {
		publish(ctx, p, logger, n.UserID, EventNotification, notificationPayload{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Content:   n.Content,
			RelatedID: n.RelatedID,
			CreatedAt: n.CreatedAt,
		})
	}
}

// PublishMessage は新着メッセージを受信者に配信する。
func PublishMessage(ctx context.Context, p Publisher, logger *slog.Logger, m *model.Message) {
	publish(ctx, p, logger, m.ReceiverID, EventMessage, messagePayload{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ApplicationID: m.ApplicationID,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt,
	})
}

func publish(ctx context.Context, p Publisher, logger *slog.Logger, userID string, t EventType, v any) {
	if p == nil || userID == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ev, err := NewEvent(t, v)
	if err == nil {
		err = p.Publish(ctx, userID, ev)
	}
	if err != nil {
		logger.Warn("リアルタイム配信に失敗しました",
			slog.String("user_id", userID),
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
	}
}
