// Package joboffer は求人・応募・活動履歴のドメインロジックを提供する。
// 求人の作成・変更・削除は同じトランザクションで活動履歴に記録する。
package joboffer

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
)

// OfferInput は求人作成の入力。
type OfferInput struct {
	Title        string
	Description  string
	Requirements string
	Category     string
	WorkType     string
	Status       model.OfferStatus
}

// OfferPatch は求人更新の入力。nilの項目は変更しない。
type OfferPatch struct {
	Title        *string
	Description  *string
	Requirements *string
	Category     *string
	WorkType     *string
	Status       *model.OfferStatus
}

// OfferFilter は求人一覧の絞り込み条件。
type OfferFilter struct {
	Status   model.OfferStatus
	Category string
}

// ApplyInput は応募の入力。
type ApplyInput struct {
	JobOfferID  string
	CoverLetter string
}

// Service は求人・応募のサービス層。
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

// ListOffers は実行者が参照できる求人を新しい順に返す。
func (s *Service) ListOffers(ctx context.Context, actor policy.Actor, f OfferFilter) ([]*model.JobOffer, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, model.NewValidationError("status", "不正なステータスです")
	}
	offers, err := s.store.Repos().JobOffers.List(ctx, repository.OfferQuery{Status: f.Status, Category: f.Category})
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗しました: %w", err)
	}
	return s.policies.JobOffers.Filter(ctx, actor, offers)
}

// GetOffer は求人を返す。
func (s *Service) GetOffer(ctx context.Context, actor policy.Actor, id string) (*model.JobOffer, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	return s.visibleOffer(ctx, actor, id)
}

// CreateOffer は求人を作成し、採用担当者以外の全員に新着を通知する。
func (s *Service) CreateOffer(ctx context.Context, actor policy.Actor, in OfferInput) (*model.JobOffer, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = model.OfferStatusOpen
	}
	now := s.now().UTC()
	o := &model.JobOffer{
		ID:           model.NewID(),
		Title:        strings.TrimSpace(in.Title),
		Description:  s.sanitizer.Sanitize(in.Description),
		Requirements: s.sanitizer.Sanitize(in.Requirements),
		Category:     strings.TrimSpace(in.Category),
		WorkType:     strings.TrimSpace(in.WorkType),
		Status:       in.Status,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateOffer(o); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.JobOffers.CanInsert(ctx, actor, o)); err != nil {
		return nil, err
	}

	var created []*model.Notification
	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.JobOffers.Create(ctx, o); err != nil {
			return fmt.Errorf("求人の作成に失敗しました: %w", err)
		}
		if err := s.logActivity(ctx, r, actor, model.ActivityCreate, o, "求人「%s」を作成しました"); err != nil {
			return err
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.JobOfferCreated(o))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)

	s.logger.Info("求人を作成しました",
		slog.String("offer_id", o.ID),
		slog.String("actor_id", actor.ID),
	)
	return o, nil
}

// UpdateOffer は求人を更新する。
func (s *Service) UpdateOffer(ctx context.Context, actor policy.Actor, id string, in OfferPatch) (*model.JobOffer, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	old, err := s.visibleOffer(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *old
	if in.Title != nil {
		next.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		next.Description = s.sanitizer.Sanitize(*in.Description)
	}
	if in.Requirements != nil {
		next.Requirements = s.sanitizer.Sanitize(*in.Requirements)
	}
	if in.Category != nil {
		next.Category = strings.TrimSpace(*in.Category)
	}
	if in.WorkType != nil {
		next.WorkType = strings.TrimSpace(*in.WorkType)
	}
	if in.Status != nil {
		next.Status = *in.Status
	}
	next.UpdatedAt = s.now().UTC()

	if err := validateOffer(&next); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.JobOffers.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.JobOffers.Update(ctx, &next); err != nil {
			return fmt.Errorf("求人の更新に失敗しました: %w", err)
		}
		return s.logActivity(ctx, r, actor, model.ActivityModify, &next, "求人「%s」を更新しました")
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// DeleteOffer は求人を削除する。応募と選考プロセスはCASCADE削除され、活動履歴は残る。
func (s *Service) DeleteOffer(ctx context.Context, actor policy.Actor, id string) error {
	if err := actor.RequireProfile(); err != nil {
		return err
	}
	o, err := s.visibleOffer(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.Allowed(s.policies.JobOffers.CanDelete(ctx, actor, o)); err != nil {
		return err
	}

	return s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.JobOffers.Delete(ctx, o.ID); err != nil {
			return fmt.Errorf("求人の削除に失敗しました: %w", err)
		}
		return s.logActivity(ctx, r, actor, model.ActivityDelete, o, "求人「%s」を削除しました")
	})
}

// ListActivities は実行者が参照できる活動履歴を新しい順に返す。
func (s *Service) ListActivities(ctx context.Context, actor policy.Actor, limit int) ([]*model.Activity, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	acts, err := s.store.Repos().Activities.List(ctx, repository.PageLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("活動履歴の取得に失敗しました: %w", err)
	}
	return s.policies.Activities.Filter(ctx, actor, acts)
}

func (s *Service) visibleOffer(ctx context.Context, actor policy.Actor, id string) (*model.JobOffer, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("求人")
	}
	o, err := s.store.Repos().JobOffers.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.JobOffers, actor, o, "求人"); err != nil {
		return nil, err
	}
	return o, nil
}

// logActivity は活動履歴を追記する。システムによる書き込みのためポリシーは適用しない。
func (s *Service) logActivity(ctx context.Context, r *repository.Repos, actor policy.Actor, t model.ActivityType, o *model.JobOffer, format string) error {
	a := &model.Activity{
		ID:             model.NewID(),
		Type:           t,
		Description:    fmt.Sprintf(format, o.Title),
		ActorID:        actor.ID,
		RelatedOfferID: o.ID,
		CreatedAt:      s.now().UTC(),
	}
	if err := r.Activities.Create(ctx, a); err != nil {
		return fmt.Errorf("活動履歴の記録に失敗しました: %w", err)
	}
	return nil
}

func validateOffer(o *model.JobOffer) error {
	if o.Title == "" {
		return model.NewValidationError("title", "タイトルは必須です")
	}
	if !o.Status.Valid() {
		return model.NewValidationError("status", "ステータスは open または closed を指定してください")
	}
	return nil
}

// publish はコミット済みの通知をリアルタイム配信する。
func (s *Service) publish(ctx context.Context, created []*model.Notification) {
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)
}
