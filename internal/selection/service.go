// Package selection は選考プロセス・選考ステージ・候補者評価・評価テンプレートのサービス層を提供する。
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository"
	"github.com/hitoshi/recruitman/internal/security"
)

// ProcessInput は選考プロセス作成の入力。
type ProcessInput struct {
	JobOfferID          string
	CandidateID         string
	Status              model.ProcessStatus
	RequiredAssessments []string
	StartDate           *time.Time
	EndDate             *time.Time
}

// ProcessPatch は選考プロセス更新の入力。nilの項目は変更しない。
// Statusを指定した場合は値が同じでもステータス通知を出す。
type ProcessPatch struct {
	Status              *model.ProcessStatus
	RequiredAssessments *[]string
	EndDate             *time.Time
}

// ProcessFilter は選考プロセス一覧の絞り込み条件。
type ProcessFilter struct {
	CandidateID string
	JobOfferID  string
}

// Service は選考まわりのサービス層。
type Service struct {
	store      repository.Store
	policies   *policy.Policies
	rel        policy.Relations
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
	rel policy.Relations,
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
		rel:        rel,
		rules:      rules,
		dispatcher: dispatcher,
		publisher:  publisher,
		sanitizer:  sanitizer,
		logger:     logger,
		now:        time.Now,
	}
}

// ListProcesses は実行者が参照できる選考プロセスを返す。
func (s *Service) ListProcesses(ctx context.Context, actor policy.Actor, f ProcessFilter) ([]*model.SelectionProcess, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	q := repository.ProcessQuery{CandidateID: f.CandidateID, JobOfferID: f.JobOfferID}
	if !actor.IsHR() {
		q.CandidateID = actor.ID
	}
	if (q.CandidateID != "" && !model.ValidID(q.CandidateID)) || (q.JobOfferID != "" && !model.ValidID(q.JobOfferID)) {
		return []*model.SelectionProcess{}, nil
	}
	ps, err := s.store.Repos().Processes.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("選考プロセス一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Processes.Filter(ctx, actor, ps)
}

// GetProcess は選考プロセスを返す。
func (s *Service) GetProcess(ctx context.Context, actor policy.Actor, id string) (*model.SelectionProcess, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	return s.visibleProcess(ctx, actor, id)
}

// CreateProcess は選考プロセスを作成する。作成時は通知しない。
func (s *Service) CreateProcess(ctx context.Context, actor policy.Actor, in ProcessInput) (*model.SelectionProcess, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if !model.ValidID(in.JobOfferID) {
		return nil, model.NewValidationError("job_offer_id", "求人IDが不正です")
	}
	if !model.ValidID(in.CandidateID) {
		return nil, model.NewValidationError("candidate_id", "応募者IDが不正です")
	}
	if in.Status == "" {
		in.Status = model.ProcessStatusPending
	}

	now := s.now().UTC()
	p := &model.SelectionProcess{
		ID:                   model.NewID(),
		JobOfferID:           in.JobOfferID,
		CandidateID:          in.CandidateID,
		Status:               in.Status,
		RequiredAssessments:  normalizeIDs(in.RequiredAssessments),
		CompletedAssessments: []string{},
		StartDate:            now,
		EndDate:              in.EndDate,
		CreatedBy:            actor.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if in.StartDate != nil {
		p.StartDate = in.StartDate.UTC()
	}
	if err := validateProcess(p); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.Processes.CanInsert(ctx, actor, p)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Processes.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("選考プロセスの作成に失敗しました: %w", err)
	}
	return p, nil
}

// UpdateProcess は選考プロセスを更新し、応募者に状況を通知する。
func (s *Service) UpdateProcess(ctx context.Context, actor policy.Actor, id string, in ProcessPatch) (*model.SelectionProcess, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	old, err := s.visibleProcess(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *old
	next.RequiredAssessments = slices.Clone(old.RequiredAssessments)
	next.CompletedAssessments = slices.Clone(old.CompletedAssessments)
	if in.Status != nil {
		next.Status = *in.Status
	}
	if in.RequiredAssessments != nil {
		next.RequiredAssessments = normalizeIDs(*in.RequiredAssessments)
	}
	if in.EndDate != nil {
		end := in.EndDate.UTC()
		next.EndDate = &end
	}
	next.UpdatedAt = s.now().UTC()

	if err := validateProcess(&next); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.Processes.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Processes.Update(ctx, &next); err != nil {
			return fmt.Errorf("選考プロセスの更新に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.ProcessUpdated(old, &next, in.Status != nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)

	s.logger.Info("選考プロセスを更新しました",
		slog.String("process_id", next.ID),
		slog.String("status", string(next.Status)),
		slog.Int("notification_count", len(created)),
	)
	return &next, nil
}

// DeleteProcess は選考プロセスを削除する。ステージ・評価・受験結果はCASCADE削除される。
func (s *Service) DeleteProcess(ctx context.Context, actor policy.Actor, id string) error {
	if err := actor.RequireProfile(); err != nil {
		return err
	}
	p, err := s.visibleProcess(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.Allowed(s.policies.Processes.CanDelete(ctx, actor, p)); err != nil {
		return err
	}
	if err := s.store.Repos().Processes.Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("選考プロセスの削除に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) visibleProcess(ctx context.Context, actor policy.Actor, id string) (*model.SelectionProcess, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("選考プロセス")
	}
	p, err := s.store.Repos().Processes.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("選考プロセスの取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Processes, actor, p, "選考プロセス"); err != nil {
		return nil, err
	}
	return p, nil
}

func validateProcess(p *model.SelectionProcess) error {
	if !p.Status.Valid() {
		return model.NewValidationError("status", "ステータスは pending・in_progress・completed・rejected のいずれかです")
	}
	for _, id := range p.RequiredAssessments {
		if !model.ValidID(id) {
			return model.NewValidationError("required_assessments", "スキル評価IDが不正です")
		}
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return model.NewValidationError("end_date", "終了日は開始日以降を指定してください")
	}
	return nil
}

// normalizeIDs は前後の空白を除き、重複を取り除く。nilは空スライスにする。
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
