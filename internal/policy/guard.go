package policy

import (
	"context"
	"fmt"

	"github.com/hitoshi/recruitman/internal/model"
)

// Visible は行が存在し、実行者が参照できることを確認する。
// 参照できない行は存在しない行と同じNotFoundになる。
func Visible[T any](ctx context.Context, p *Policy[T], a Actor, row *T, resource string) error {
	if row == nil {
		return model.NewNotFoundError(resource)
	}
	ok, err := p.CanSelect(ctx, a, row)
	if err != nil {
		return fmt.Errorf("%sの参照権限の判定に失敗しました: %w", resource, err)
	}
	if !ok {
		return model.NewNotFoundError(resource)
	}
	return nil
}

// Allowed は書き込み判定の結果をエラーに変換する。拒否はForbiddenになる。
func Allowed(ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("書き込み権限の判定に失敗しました: %w", err)
	}
	if !ok {
		return model.NewForbiddenError()
	}
	return nil
}
