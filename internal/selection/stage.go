package selection

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
)

// StageInput は選考ステージ追加の入力。Positionがnilの場合は末尾に追加する。
type StageInput struct {
	Name         string
	Requirements string
	Position     *int
	IsRequired   bool
}

// ListStages は選考プロセスのステージをposition順に返す。
func (s *Service) ListStages(ctx context.Context, actor policy.Actor, processID string) ([]*model.ProcessStage, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	if _, err := s.visibleProcess(ctx, actor, processID); err != nil {
		return nil, err
	}
	stages, err := s.store.Repos().Stages.ListByProcess(ctx, processID)
	if err != nil {
		return nil, fmt.Errorf("選考ステージ一覧の取得に失敗しました: %w", err)
	}
	return s.policies.Stages.Filter(ctx, actor, stages)
}

// AddStage は選考プロセスにステージを追加する。
func (s *Service) AddStage(ctx context.Context, actor policy.Actor, processID string, in StageInput) (*model.ProcessStage, error) {
	if err := actor.RequireProfile(); err != nil {
		return nil, err
	}
	p, err := s.visibleProcess(ctx, actor, processID)
	if err != nil {
		return nil, err
	}

	st := &model.ProcessStage{
		ID:           model.NewID(),
		ProcessID:    p.ID,
		Name:         strings.TrimSpace(in.Name),
		Requirements: s.sanitizer.Sanitize(in.Requirements),
		IsRequired:   in.IsRequired,
		CreatedAt:    s.now().UTC(),
	}
	if st.Name == "" {
		return nil, model.NewValidationError("name", "ステージ名は必須です")
	}
	if in.Position != nil {
		if *in.Position < 1 {
			return nil, model.NewValidationError("position", "表示順は1以上を指定してください")
		}
		st.Position = *in.Position
	}
	if err := policy.Allowed(s.policies.Stages.CanInsert(ctx, actor, st)); err != nil {
		return nil, err
	}

	if in.Position == nil {
		existing, err := s.store.Repos().Stages.ListByProcess(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("選考ステージ一覧の取得に失敗しました: %w", err)
		}
		st.Position = 1
		for _, e := range existing {
			st.Position = max(st.Position, e.Position+1)
		}
	}

	if err := s.store.Repos().Stages.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("選考ステージの作成に失敗しました: %w", err)
	}
	return st, nil
}

// DeleteStage は選考ステージを削除する。評価はCASCADE削除される。
func (s *Service) DeleteStage(ctx context.Context, actor policy.Actor, id string) error {
	if err := actor.RequireProfile(); err != nil {
		return err
	}
	st, err := s.visibleStage(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.Allowed(s.policies.Stages.CanDelete(ctx, actor, st)); err != nil {
		return err
	}
	if err := s.store.Repos().Stages.Delete(ctx, st.ID); err != nil {
		return fmt.Errorf("選考ステージの削除に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) visibleStage(ctx context.Context, actor policy.Actor, id string) (*model.ProcessStage, error) {
	if !model.ValidID(id) {
		return nil, model.NewNotFoundError("選考ステージ")
	}
	st, err := s.store.Repos().Stages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("選考ステージの取得に失敗しました: %w", err)
	}
	if err := policy.Visible(ctx, s.policies.Stages, actor, st, "選考ステージ"); err != nil {
		return nil, err
	}
	return st, nil
}
