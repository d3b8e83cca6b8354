// Package assessment はスキル評価・設問・受験結果のサービス層を提供する。
// 受験は開始時刻と制限時間から期限を算出し、期限後の提出はexpiredとして記録する。
package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/repository"
	"github.com/hitoshi/recruitman/internal/security"
)

// AssessmentInput はスキル評価作成の入力。
type AssessmentInput struct {
	Title            string
	Description      string
	TimeLimitMinutes int
	PassingScore     int
}

// QuestionInput は設問追加の入力。Positionがnilの場合は末尾に追加する。
type QuestionInput struct {
	Question     string
	QuestionType string
	Options      json.RawMessage
	Points       int
	Position     *int
}

// 設問の種別。
const (
	QuestionTypeChoice = "multiple_choice"
	QuestionTypeText   = "text"
)

// ResultFilter は受験結果一覧の絞り込み条件。
type ResultFilter struct {
	AssessmentID string
	CandidateID  string
}

// StartInput は受験開始の入力。ProcessIDは任意。
type StartInput struct {
	AssessmentID string
	ProcessID    string
}

// AttemptPatch は受験中の回答保存・提出の入力。
type AttemptPatch struct {
	Answers json.RawMessage
	Submit  bool
}

// Service はスキル評価のサービス層。
type Service struct {
	store     repository.Store
	policies  *policy.Policies
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, policies *policy.Policies, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		policies:  policies,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// ListAssessments は実行者が参照できるスキル評価を返す。応募者には割り当て済みのもののみ返す。
func (s *Service) ListAssessments(ctx context.Context, actor policy.Actor) ([]*model.SkillAssessment, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	as, err := s.store.Repos().Assessments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("スキル評価一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Assessments.Filter(ctx, actor, as)
}

// GetAssessment はスキル評価を返す。
func (s *Service) GetAssessment(ctx context.Context, actor policy.Actor, id string) (*model.SkillAssessment, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	return s.visibleAssessment(ctx, actor, id)
}

// CreateAssessment はスキル評価を作成する。
func (s *Service) CreateAssessment(ctx context.Context, actor policy.Actor, in AssessmentInput) (*model.SkillAssessment, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	a := &model.SkillAssessment{
		ID:               model.NewID(),
		Title:            strings.TrimSpace(in.Title),
		Description:      s.sanitizer.Sanitize(in.Description),
		TimeLimitMinutes: in.TimeLimitMinutes,
		PassingScore:     in.PassingScore,
		CreatedBy:        actor.ID,
		CreatedAt:        s.now().UTC(),
	}
	switch {
	case a.Title == "":
		return nil, model.NewValidationError("title", "タイトルは必須です")
	case a.TimeLimitMinutes <= 0:
		return nil, model.NewValidationError("time_limit_minutes", "制限時間は1分以上を指定してください")
	case a.PassingScore < 0 || a.PassingScore > 100:
		return nil, model.NewValidationError("passing_score", "合格点は0から100の範囲で指定してください")
	}
	if err := policy.Allowed(s.policies.Assessments.CanInsert(ctx, actor, a)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Assessments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("スキル評価の作成に失敗しました: %w", err)
	}
	return a, nil
}

// ListQuestions はスキル評価の設問をposition順に返す。
// 採用担当者以外には正答を含めない。
func (s *Service) ListQuestions(ctx context.Context, actor policy.Actor, assessmentID string) ([]*model.AssessmentQuestion, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if _, err := s.visibleAssessment(ctx, actor, assessmentID); err != nil {
		return nil, err
	}
	qs, err := s.store.Repos().Assessments.ListQuestions(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
	}
	qs, err = s.policies.Questions.Filter(ctx, actor, qs)
	if err != nil {
		return nil, err
	}
	if actor.IsHR() {
		return qs, nil
	}
	out := make([]*model.AssessmentQuestion, 0, len(qs))
	for _, q := range qs {
		c := *q
		c.Options = withoutAnswer(q.Options)
		out = append(out, &c)
	}
	return out, nil
}

// AddQuestion はスキル評価に設問を追加する。
func (s *Service) AddQuestion(ctx context.Context, actor policy.Actor, assessmentID string, in QuestionInput) (*model.AssessmentQuestion, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	a, err := s.visibleAssessment(ctx, actor, assessmentID)
	if err != nil {
		return nil, err
	}
	if in.QuestionType == "" {
		in.QuestionType = QuestionTypeChoice
	}
	if len(bytes.TrimSpace(in.Options)) == 0 {
		in.Options = json.RawMessage(`{}`)
	}

	q := &model.AssessmentQuestion{
		ID:           model.NewID(),
		AssessmentID: a.ID,
		Question:     s.sanitizer.Sanitize(strings.TrimSpace(in.Question)),
		QuestionType: in.QuestionType,
		Options:      in.Options,
		Points:       in.Points,
	}
	switch {
	case q.Question == "":
		return nil, model.NewValidationError("question", "設問文は必須です")
	case q.QuestionType != QuestionTypeChoice && q.QuestionType != QuestionTypeText:
		return nil, model.NewValidationError("question_type", "設問の種別は multiple_choice または text です")
	case q.Points <= 0:
		return nil, model.NewValidationError("points", "配点は1以上を指定してください")
	}
	if _, err := parseOptions(q.Options); err != nil {
		return nil, model.NewValidationError("options", "選択肢の形式が不正です")
	}
	if err := policy.Allowed(s.policies.Questions.CanInsert(ctx, actor, q)); err != nil {
		return nil, err
	}

	if in.Position != nil {
		q.Position = *in.Position
	} else {
		existing, err := s.store.Repos().Assessments.ListQuestions(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("設問一覧の取得に失敗しました: %w", err)
		}
		q.Position = 1
		for _, e := range existing {
			q.Position = max(q.Position, e.Position+1)
		}
	}

	if err := s.store.Repos().Assessments.AddQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("設問の追加に失敗しました: %w", err)
	}
	return q, nil
}

func (s *Service) visibleAssessment(ctx context.Context, actor policy.Actor, id string) (*model.SkillAssessment, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("スキル評価")
	}
	a, err := s.store.Repos().Assessments.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("スキル評価の取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Assessments, actor, a, "スキル評価"); err != nil {
		return nil, err
	}
	return a, nil
}
