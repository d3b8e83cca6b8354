// Package inbox はメッセージ・通知・メール送信キューの参照系サービスを提供する。
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository"
	"github.com/hitoshi/recruitman/internal/security"
	"github.com/hitoshi/recruitman/internal/storage"
)

// SendInput はメッセージ送信の入力。
type SendInput struct {
	ReceiverID    string
	ApplicationID string
	Content       string
	AttachmentURL string
}

// Service はメッセージと通知のサービス層。
type Service struct {
	store      repository.Store
	policies   *policy.Policies
	rules      *fanout.Rules
	dispatcher *fanout.Dispatcher
	publisher  realtime.Publisher
	sanitizer  security.TextSanitizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	store repository.Store,
	policies *policy.Policies,
	rules *fanout.Rules,
	dispatcher *fanout.Dispatcher,
	publisher realtime.Publisher,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		policies:   policies,
		rules:      rules,
		dispatcher: dispatcher,
		publisher:  publisher,
		sanitizer:  sanitizer,
		logger:     logger,
		now:        time.Now,
	}
}

// ListMessages は実行者が送信または受信したメッセージを新しい順に返す。
func (s *Service) ListMessages(ctx context.Context, actor policy.Actor, limit int) ([]*model.Message, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	ms, err := s.store.Repos().Messages.ListForUser(ctx, actor.ID, repository.PageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Messages.Filter(ctx, actor, ms)
}

func errUndeliverable() *model.APIError {
	return model.NewValidationError("receiver_id", "この宛先には送信できません")
}

// Send はメッセージを送信し、受信者に新着を通知する。
func (s *Service) Send(ctx context.Context, actor policy.Actor, in SendInput) (*model.Message, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	content := s.sanitizer.Sanitize(strings.TrimSpace(in.Content))
	if content == "" {
		return nil, model.NewValidationError("content", "本文は必須です")
	}
	// 宛先の不在は形式不正と区別しない
	if !model.ValidID(in.ReceiverID) || in.ReceiverID == actor.ID {
		return nil, errUndeliverable()
	}

	repos := s.store.Repos()
	receiver, err := repos.Profiles.FindByID(ctx, in.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("宛先プロフィールの取得に失敗しました: %w", err)
	}
	if receiver == nil {
		return nil, errUndeliverable()
	}
	if in.ApplicationID != "" {
		if err := s.checkApplication(ctx, actor, in.ApplicationID); err != nil {
			return nil, err
		}
	}
	if in.AttachmentURL != "" {
		_, objectPath, err := storage.ParseObjectURL(in.AttachmentURL)
		if err != nil {
			return nil, model.NewValidationError("attachment_url", "添付ファイルのURLが不正です")
		}
		if !policy.CanAccessBlobPath(actor, objectPath) {
			return nil, model.NewForbiddenError()
		}
	}

	m := &model.Message{
		ID:            model.NewID(),
		SenderID:      actor.ID,
		ReceiverID:    receiver.ID,
		ApplicationID: in.ApplicationID,
		Content:       content,
		AttachmentURL: in.AttachmentURL,
		CreatedAt:     s.now().UTC(),
	}
	if err := policy.Allowed(s.policies.Messages.CanInsert(ctx, actor, m)); err != nil {
		return nil, err
	}

	sender, err := repos.Profiles.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("送信者プロフィールの取得に失敗しました: %w", err)
	}

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Messages.Create(ctx, m); err != nil {
			return fmt.Errorf("メッセージの作成に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.MessageCreated(m, sender))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishMessage(ctx, s.publisher, s.logger, m)
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)
	return m, nil
}

// MarkMessageRead は受信したメッセージを既読にする。既読を未読に戻す操作は無い。
func (s *Service) MarkMessageRead(ctx context.Context, actor policy.Actor, id string) (*model.Message, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("メッセージ")
	}
	old, err := s.store.Repos().Messages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Messages, actor, old, "メッセージ"); err != nil {
		return nil, err
	}
	if old.Read {
		return old, nil
	}

	next := *old
	next.Read = true
	if err := policy.Allowed(s.policies.Messages.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Messages.MarkRead(ctx, next.ID); err != nil {
		return nil, fmt.Errorf("メッセージの既読化に失敗しました: %w", err)
	}
	return &next, nil
}

// ListNotifications は実行者宛ての通知を新しい順に返す。
func (s *Service) ListNotifications(ctx context.Context, actor policy.Actor, unreadOnly bool, limit int) ([]*model.Notification, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	ns, err := s.store.Repos().Notifications.ListByUser(ctx, actor.ID, unreadOnly, repository.PageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Notifications.Filter(ctx, actor, ns)
}

// MarkNotificationRead は通知を既読にする。
func (s *Service) MarkNotificationRead(ctx context.Context, actor policy.Actor, id string) (*model.Notification, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("通知")
	}
	old, err := s.store.Repos().Notifications.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Notifications, actor, old, "通知"); err != nil {
		return nil, err
	}
	if old.Read {
		return old, nil
	}

	next := *old
	next.Read = true
	if err := policy.Allowed(s.policies.Notifications.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Notifications.MarkRead(ctx, next.ID); err != nil {
		return nil, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	return &next, nil
}

// ListEmails はメール送信キューを新しい順に返す。採用担当者のみ参照できる。
func (s *Service) ListEmails(ctx context.Context, actor policy.Actor, limit int) ([]*model.EmailNotification, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !actor.IsHR() {
		return nil, model.NewForbiddenError()
	}
	es, err := s.store.Repos().Emails.List(ctx, repository.PageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("メール送信キューの取得に失敗しました: %w", err)
	}
	return s.policies.Emails.Filter(ctx, actor, es)
}

func (s *Service) checkApplication(ctx context.Context, actor policy.Actor, id string) error {
	if !model.ValidID(id) {
		return model.NewValidationError("application_id", "応募IDが不正です")
	}
	a, err := s.store.Repos().Applications.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("応募の取得に失敗しました: %w", err)
	}
	ok := a != nil
	if ok {
		if ok, err = s.policies.Applications.CanSelect(ctx, actor, a); err != nil {
			return fmt.Errorf("応募の権限判定に失敗しました: %w", err)
		}
	}
	if !ok {
		return model.NewValidationError("application_id", "応募が見つかりません")
	}
	return nil
}
