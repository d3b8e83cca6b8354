package selection

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// TemplateInput は評価テンプレート作成の入力。
type TemplateInput struct {
	Name         string
	Description  string
	MaxScore     int
	PassingScore int
}

// CriterionInput は評価基準追加の入力。
type CriterionInput struct {
	Name        string
	Description string
	Weight      float64
	MaxScore    int
}

// ListTemplates は評価テンプレートを返す。
func (s *Service) ListTemplates(ctx context.Context, actor policy.Actor) ([]*model.EvaluationTemplate, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	ts, err := s.store.Repos().Templates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("評価テンプレート一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Templates.Filter(ctx, actor, ts)
}

// GetTemplate は評価基準付きの評価テンプレートを返す。
func (s *Service) GetTemplate(ctx context.Context, actor policy.Actor, id string) (*model.EvaluationTemplate, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	t, err := s.visibleTemplate(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	criteria := make([]model.EvaluationCriterion, 0, len(t.Criteria))
	for i := range t.Criteria {
		ok, err := s.policies.Criteria.CanSelect(ctx, actor, &t.Criteria[i])
		if err != nil {
			return nil, fmt.Errorf("評価基準の権限判定に失敗しました: %w", err)
		}
		if ok {
			criteria = append(criteria, t.Criteria[i])
		}
	}
	t.Criteria = criteria
	return t, nil
}

// CreateTemplate は評価テンプレートを作成する。
func (s *Service) CreateTemplate(ctx context.Context, actor policy.Actor, in TemplateInput) (*model.EvaluationTemplate, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	t := &model.EvaluationTemplate{
		ID:           model.NewID(),
		Name:         strings.TrimSpace(in.Name),
		Description:  s.sanitizer.Sanitize(in.Description),
		MaxScore:     in.MaxScore,
		PassingScore: in.PassingScore,
		CreatedBy:    actor.ID,
		CreatedAt:    s.now().UTC(),
	}
	switch {
	case t.Name == "":
		return nil, model.NewValidationError("name", "テンプレート名は必須です")
	case t.MaxScore <= 0:
		return nil, model.NewValidationError("max_score", "満点は1以上を指定してください")
	case t.PassingScore < 0 || t.PassingScore > t.MaxScore:
		return nil, model.NewValidationError("passing_score", "合格点は0から満点の範囲で指定してください")
	}
	if err := policy.Allowed(s.policies.Templates.CanInsert(ctx, actor, t)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Templates.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("評価テンプレートの作成に失敗しました: %w", err)
	}
	return t, nil
}

// DeleteTemplate は評価テンプレートを削除する。評価基準はCASCADE削除され、評価のtemplate_idはNULLになる。
func (s *Service) DeleteTemplate(ctx context.Context, actor policy.Actor, id string) error {
	if err := actor.RequireProfile(); err != nil {
		return err
	}
	t, err := s.visibleTemplate(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.Allowed(s.policies.Templates.CanDelete(ctx, actor, t)); err != nil {
		return err
	}
	if err := s.store.Repos().Templates.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("評価テンプレートの削除に失敗しました: %w", err)
	}
	return nil
}

// AddCriterion は評価テンプレートに評価基準を追加する。
func (s *Service) AddCriterion(ctx context.Context, actor policy.Actor, templateID string, in CriterionInput) (*model.EvaluationCriterion, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	t, err := s.visibleTemplate(ctx, actor, templateID)
	if err != nil {
		return nil, err
	}
	c := &model.EvaluationCriterion{
		ID:          model.NewID(),
		TemplateID:  t.ID,
		Name:        strings.TrimSpace(in.Name),
		Description: s.sanitizer.Sanitize(in.Description),
		Weight:      in.Weight,
		MaxScore:    in.MaxScore,
	}
	switch {
	case c.Name == "":
		return nil, model.NewValidationError("name", "評価基準名は必須です")
	case c.Weight <= 0:
		return nil, model.NewValidationError("weight", "重みは0より大きい値を指定してください")
	case c.MaxScore <= 0:
		return nil, model.NewValidationError("max_score", "満点は1以上を指定してください")
	}
	if err := policy.Allowed(s.policies.Criteria.CanInsert(ctx, actor, c)); err != nil {
		return nil, err
	}
	if err := s.store.Repos().Templates.AddCriterion(ctx, c); err != nil {
		return nil, fmt.Errorf("評価基準の追加に失敗しました: %w", err)
	}
	return c, nil
}

func (s *Service) visibleTemplate(ctx context.Context, actor policy.Actor, id string) (*model.EvaluationTemplate, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("評価テンプレート")
	}
	t, err := s.store.Repos().Templates.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("評価テンプレートの取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Templates, actor, t, "評価テンプレート"); err != nil {
		return nil, err
	}
	return t, nil
}
