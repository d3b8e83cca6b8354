package document

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository"
)

// ListVersions は書類のバージョンを新しい順に返す。
func (s *Service) ListVersions(ctx context.Context, actor policy.Actor, documentID string) ([]*model.DocumentVersion, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if _, err := s.visibleDocument(ctx, actor, documentID); err != nil {
		return nil, err
	}
	vs, err := s.store.Repos().Documents.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("書類バージョン一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Versions.Filter(ctx, actor, vs)
}

// ListApprovals は書類の承認履歴を新しい順に返す。
func (s *Service) ListApprovals(ctx context.Context, actor policy.Actor, documentID string) ([]*model.DocumentApproval, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if _, err := s.visibleDocument(ctx, actor, documentID); err != nil {
		return nil, err
	}
	as, err := s.store.Repos().Documents.ListApprovals(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("承認履歴の取得に失敗しました: %w", err)
	}
	return s.policies.Approvals.Filter(ctx, actor, as)
}

// Approve は書類を承認または却下する。承認履歴を追記し、書類の状態を更新して所有者に通知する。
func (s *Service) Approve(ctx context.Context, actor policy.Actor, documentID string, in ApprovalInput) (*model.DocumentApproval, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if in.Status != model.DocumentStatusApproved && in.Status != model.DocumentStatusRejected {
		return nil, model.NewValidationError("status", "ステータスは approved または rejected を指定してください")
	}
	old, err := s.visibleDocument(ctx, actor, documentID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &model.DocumentApproval{
		ID:         model.NewID(),
		DocumentID: old.ID,
		ApproverID: actor.ID,
		Status:     in.Status,
		Comment:    strings.TrimSpace(in.Comment),
		CreatedAt:  now,
	}
	if err := policy.Allowed(s.policies.Approvals.CanInsert(ctx, actor, a)); err != nil {
		return nil, err
	}

	next := *old
	next.Status = in.Status
	next.UpdatedAt = now

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Documents.AddApproval(ctx, a); err != nil {
			return fmt.Errorf("承認履歴の作成に失敗しました: %w", err)
		}
		if err := r.Documents.Update(ctx, &next); err != nil {
			return fmt.Errorf("書類の更新に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.DocumentChanged(old, &next))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)

	s.logger.Info("書類を審査しました",
		slog.String("document_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.String("approver_id", actor.ID),
	)
	return a, nil
}
