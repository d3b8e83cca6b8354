package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository"
)

// EvaluationInput は評価作成の入力。評価者は実行者、候補者はステージの親プロセスから決まる。
type EvaluationInput struct {
	StageID        string
	TemplateID     string
	Score          int
	Status         model.EvaluationStatus
	CriteriaScores json.RawMessage
	Notes          string
}

// EvaluationPatch は評価更新の入力。nilの項目は変更しない。
type EvaluationPatch struct {
	Score          *int
	Status         *model.EvaluationStatus
	CriteriaScores json.RawMessage
	Notes          *string
}

// EvaluationFilter は評価一覧の絞り込み条件。
type EvaluationFilter struct {
	StageID     string
	CandidateID string
}

// ListEvaluations は実行者が参照できる評価を返す。応募者には自分の評価のみ返す。
func (s *Service) ListEvaluations(ctx context.Context, actor policy.Actor, f EvaluationFilter) ([]*model.CandidateEvaluation, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	q := repository.EvaluationQuery{StageID: f.StageID, CandidateID: f.CandidateID}
	if !actor.IsHR() {
		q.CandidateID = actor.ID
	}
	if (q.StageID != "" && !model.ValidID(q.StageID)) || (q.CandidateID != "" && !model.ValidID(q.CandidateID)) {
		return []*model.CandidateEvaluation{}, nil
	}
	es, err := s.store.Repos().Evaluations.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("評価一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Evaluations.Filter(ctx, actor, es)
}

// CreateEvaluation はステージに評価を登録する。作成時は通知しない。
func (s *Service) CreateEvaluation(ctx context.Context, actor policy.Actor, in EvaluationInput) (*model.CandidateEvaluation, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	st, err := s.visibleStage(ctx, actor, in.StageID)
	if err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = model.EvaluationStatusPending
	}
	candidateID, err := s.rel.ProcessCandidate(ctx, st.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("選考プロセスの取得に失敗しました: %w", err)
	}

	now := s.now().UTC()
	e := &model.CandidateEvaluation{
		ID:             model.NewID(),
		StageID:        st.ID,
		CandidateID:    candidateID,
		EvaluatorID:    actor.ID,
		Score:          in.Score,
		Status:         in.Status,
		CriteriaScores: criteriaOrEmpty(in.CriteriaScores),
		Notes:          s.sanitizer.Sanitize(in.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.TemplateID != "" {
		if !model.ValidID(in.TemplateID) {
			return nil, model.NewValidationError("template_id", "評価テンプレートIDが不正です")
		}
		tmpl, err := s.store.Repos().Templates.FindByID(ctx, in.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("評価テンプレートの取得に失敗しました: %w", err)
		}
		if tmpl == nil {
			return nil, model.NewValidationError("template_id", "評価テンプレートが見つかりません")
		}
		e.TemplateID = tmpl.ID
	}
	if err := validateEvaluation(e); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.Evaluations.CanInsert(ctx, actor, e)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Evaluations.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("評価の作成に失敗しました: %w", err)
	}
	return e, nil
}

// UpdateEvaluation は評価を更新する。合否が確定した場合は親プロセスの応募者に通知する。
func (s *Service) UpdateEvaluation(ctx context.Context, actor policy.Actor, id string, in EvaluationPatch) (*model.CandidateEvaluation, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	old, err := s.visibleEvaluation(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	next := *old
	if in.Score != nil {
		next.Score = *in.Score
	}
	if in.Status != nil {
		next.Status = *in.Status
	}
	if in.CriteriaScores != nil {
		next.CriteriaScores = in.CriteriaScores
	}
	next.CriteriaScores = criteriaOrEmpty(next.CriteriaScores)
	if in.Notes != nil {
		next.Notes = s.sanitizer.Sanitize(*in.Notes)
	}
	next.UpdatedAt = s.now().UTC()

	if err := validateEvaluation(&next); err != nil {
		return nil, err
	}
	if err := policy.Allowed(s.policies.Evaluations.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}
	recipient, err := s.rel.StageCandidate(ctx, next.StageID)
	if err != nil {
		return nil, fmt.Errorf("選考ステージの取得に失敗しました: %w", err)
	}

	var created []*model.Notification
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Evaluations.Update(ctx, &next); err != nil {
			return fmt.Errorf("評価の更新に失敗しました: %w", err)
		}
		created = s.dispatcher.Dispatch(ctx, r.Outbox, s.rules.EvaluationUpdated(old, &next, recipient))
		return nil
	})
	if err != nil {
		return nil, err
	}
	realtime.PublishNotifications(ctx, s.publisher, s.logger, created)

	s.logger.Info("評価を更新しました",
		slog.String("evaluation_id", next.ID),
		slog.String("status", string(next.Status)),
	)
	return &next, nil
}

func (s *Service) visibleEvaluation(ctx context.Context, actor policy.Actor, id string) (*model.CandidateEvaluation, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("評価")
	}
	e, err := s.store.Repos().Evaluations.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("評価の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Evaluations, actor, e, "評価"); err != nil {
		return nil, err
	}
	return e, nil
}

func validateEvaluation(e *model.CandidateEvaluation) error {
	if e.Score < 0 || e.Score > model.MaxEvaluationScore {
		return model.NewValidationError("score", fmt.Sprintf("スコアは0から%dの範囲で指定してください", model.MaxEvaluationScore))
	}
	if !e.Status.Valid() {
		return model.NewValidationError("status", "ステータスは pending・passed・failed のいずれかです")
	}
	if !json.Valid(e.CriteriaScores) {
		return model.NewValidationError("criteria_scores", "JSON形式で指定してください")
	}
	return nil
}

func criteriaOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
