package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/repository"
)

// ListResults は実行者が参照できる受験結果を返す。応募者には自分の結果のみ返す。
func (s *Service) ListResults(ctx context.Context, actor policy.Actor, f ResultFilter) ([]*model.AssessmentResult, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	q := repository.ResultQuery{AssessmentID: f.AssessmentID, CandidateID: f.CandidateID}
	if !actor.IsHR() {
		q.CandidateID = actor.ID
	}
	if (q.AssessmentID != "" && !model.ValidID(q.AssessmentID)) || (q.CandidateID != "" && !model.ValidID(q.CandidateID)) {
		return []*model.AssessmentResult{}, nil
	}
	rs, err := s.store.Repos().Results.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("受験結果一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Results.Filter(ctx, actor, rs)
}

// StartAttempt は割り当て済みのスキル評価の受験を開始する。
// 期限内の受験中の結果がある場合は新たに作らずそれを返す。
func (s *Service) StartAttempt(ctx context.Context, actor policy.Actor, in StartInput) (*model.AssessmentResult, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	a, err := s.visibleAssessment(ctx, actor, in.AssessmentID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if in.ProcessID != "" {
		if !model.ValidID(in.ProcessID) {
			return nil, model.NewValidationError("process_id", "選考プロセスIDが不正です")
		}
		p, err := s.store.Repos().Processes.FindByID(ctx, in.ProcessID)
		if err != nil {
			return nil, fmt.Errorf("選考プロセスの取得に失敗しました: %w", err)
		}
		if err := policy.Visible(ctx, s.policies.Processes, actor, p, "選考プロセス"); err != nil {
			return nil, err
		}
		if p.CandidateID != actor.ID || !slices.Contains(p.RequiredAssessments, a.ID) {
			return nil, model.NewValidationError("process_id", "この選考プロセスには割り当てられていません")
		}
	}

	existing, err := s.store.Repos().Results.List(ctx, repository.ResultQuery{CandidateID: actor.ID, AssessmentID: a.ID})
	if err != nil {
		return nil, fmt.Errorf("受験結果の取得に失敗しました: %w", err)
	}
	for _, r := range existing {
		if r.Status == model.ResultStatusInProgress && r.ProcessID == in.ProcessID && !now.After(r.Deadline(a.TimeLimitMinutes)) {
			return r, nil
		}
	}

	r := &model.AssessmentResult{
		ID:           model.NewID(),
		AssessmentID: a.ID,
		CandidateID:  actor.ID,
		ProcessID:    in.ProcessID,
		Status:       model.ResultStatusInProgress,
		Answers:      json.RawMessage(`{}`),
		StartTime:    now,
	}
	if err := policy.Allowed(s.policies.Results.CanInsert(ctx, actor, r)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Results.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("受験結果の作成に失敗しました: %w", err)
	}

	s.logger.Info("受験を開始しました",
		slog.String("result_id", r.ID),
		slog.String("assessment_id", a.ID),
		slog.String("candidate_id", actor.ID),
	)
	return r, nil
}

// UpdateAttempt は受験中の回答を保存し、Submitがtrueの場合は採点して完了にする。
// 期限を過ぎている場合は結果をexpiredにしてエラーを返す。
func (s *Service) UpdateAttempt(ctx context.Context, actor policy.Actor, id string, in AttemptPatch) (*model.AssessmentResult, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	old, err := s.visibleResult(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	a, err := s.store.Repos().Assessments.FindByID(ctx, old.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("スキル評価の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewNotFoundError("スキル評価")
	}

	var answers map[string]json.RawMessage
	if len(bytes.TrimSpace(in.Answers)) > 0 {
		if err := json.Unmarshal(in.Answers, &answers); err != nil {
			return nil, model.NewValidationError("answers", "回答は設問IDをキーとするJSONオブジェクトで指定してください")
		}
	}

	now := s.now().UTC()
	next := *old
	if answers != nil {
		next.Answers = in.Answers
	}
	if in.Submit {
		next.Status = model.ResultStatusCompleted
		next.EndTime = &now
	}
	if err := policy.Allowed(s.policies.Results.CanUpdate(ctx, actor, old, &next)); err != nil {
		return nil, err
	}

	if now.After(old.Deadline(a.TimeLimitMinutes)) {
		expired := *old
		expired.Status = model.ResultStatusExpired
		expired.EndTime = &now
		if err := s.store.Repos().Results.Update(ctx, &expired); err != nil {
			return nil, fmt.Errorf("受験結果の更新に失敗しました: %w", err)
		}
		s.logger.Info("制限時間を過ぎた受験を期限切れにしました",
			slog.String("result_id", old.ID),
			slog.String("candidate_id", old.CandidateID),
		)
		return nil, model.NewValidationError("end_time", "制限時間を過ぎているため回答を受け付けられません")
	}

	if !in.Submit {
		if err := s.store.Repos().Results.Update(ctx, &next); err != nil {
			return nil, fmt.Errorf("回答の保存に失敗しました: %w", err)
		}
		return &next, nil
	}

	questions, err := s.store.Repos().Assessments.ListQuestions(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
	}
	if answers == nil {
		if err := json.Unmarshal(next.Answers, &answers); err != nil && len(next.Answers) > 0 {
			return nil, fmt.Errorf("保存済みの回答の読み取りに失敗しました: %w", err)
		}
	}
	next.Score = Score(questions, answers)

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Results.Update(ctx, &next); err != nil {
			return fmt.Errorf("受験結果の更新に失敗しました: %w", err)
		}
		if next.ProcessID == "" {
			return nil
		}
		p, err := r.Processes.FindByID(ctx, next.ProcessID)
		if err != nil {
			return fmt.Errorf("選考プロセスの取得に失敗しました: %w", err)
		}
		if p == nil || slices.Contains(p.CompletedAssessments, next.AssessmentID) {
			return nil
		}
		p.CompletedAssessments = append(p.CompletedAssessments, next.AssessmentID)
		p.UpdatedAt = now
		if err := r.Processes.Update(ctx, p); err != nil {
			return fmt.Errorf("選考プロセスの更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{
		slog.String("result_id", next.ID),
		slog.String("assessment_id", next.AssessmentID),
	}
	if next.Score != nil {
		attrs = append(attrs, slog.Int("score", *next.Score), slog.Bool("passed", *next.Score >= a.PassingScore))
	}
	s.logger.Info("受験を提出しました", attrs...)
	return &next, nil
}

func (s *Service) visibleResult(ctx context.Context, actor policy.Actor, id string) (*model.AssessmentResult, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("受験結果")
	}
	r, err := s.store.Repos().Results.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("受験結果の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Results, actor, r, "受験結果"); err != nil {
		return nil, err
	}
	return r, nil
}
