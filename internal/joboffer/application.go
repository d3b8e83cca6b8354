package joboffer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/repository"
)

// ListApplications は実行者が参照できる応募を返す。jobOfferIDが空の場合は絞り込まない。
func (s *Service) ListApplications(ctx context.Context, actor policy.Actor, jobOfferID string) ([]*model.Application, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if jobOfferID != "" && !model.ValidID(jobOfferID) {
		return []*model.Application{}, nil
	}
	q := repository.ApplicationQuery{JobOfferID: jobOfferID}
	if !actor.IsHR() {
		q.UserID = actor.ID
	}
	apps, err := s.store.Repos().Applications.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Applications.Filter(ctx, actor, apps)
}

// Apply は求人に応募する。同一求人への重複応募は許可する。
func (s *Service) Apply(ctx context.Context, actor policy.Actor, in ApplyInput) (*model.Application, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	offer, err := s.visibleOffer(ctx, actor, in.JobOfferID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &model.Application{
		ID:          model.NewID(),
		JobOfferID:  offer.ID,
		UserID:      actor.ID,
		Status:      model.ApplicationStatusPending,
		CoverLetter: s.sanitizer.Sanitize(in.CoverLetter),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := policy.Allowed(s.policies.Applications.CanInsert(ctx, actor, a)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Applications.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("応募の作成に失敗しました: %w", err)
	}
	return a, nil
}

// UpdateApplicationStatus は応募ステータスを変更し、応募者に通知する。
func (s *Service) UpdateApplicationStatus(ctx context.Context, actor policy.Actor, id string, status model.ApplicationStatus) (*model.Application, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, model.NewValidationError("status", "ステータスは pending・accepted・rejected のいずれかです")
	}
	old, err := s.visibleApplication(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *old
	next.Status = status
	next.UpdatedAt = s.now().UTC()
	if err := policy.Allowed(s.policies.Applications.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Applications.UpdateStatus(ctx, &next); err != nil {
			return fmt.Errorf("応募ステータスの更新に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.ApplicationUpdated(old, &next))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, created)

	s.logger.Info("応募ステータスを更新しました",
		slog.String("application_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.String("actor_id", actor.ID),
	)
	return &next, nil
}

// WithdrawApplication は審査前の応募を取り下げる。
func (s *Service) WithdrawApplication(ctx context.Context, actor policy.Actor, id string) error {
	if err := actor.RequireProfile(); err != nil {
		return err
	}
	a, err := s.visibleApplication(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.Allowed(s.policies.Applications.CanDelete(ctx, actor, a)); err != nil {
		return err
	}
	if err := s.store.Repos().Applications.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("応募の削除に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) visibleApplication(ctx context.Context, actor policy.Actor, id string) (*model.Application, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("応募")
	}
	a, err := s.store.Repos().Applications.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("応募の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Applications, actor, a, "応募"); err != nil {
		return nil, err
	}
	return a, nil
}
