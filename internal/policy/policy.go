// Package policy は行単位のアクセス制御（Access Policy Engine）を提供する。
// テーブルごと・操作ごとに独立した述語のリストを持ち、
// いずれかの述語が真であればその操作を許可する。
package policy

import (
	"context"

	"github.com/hitoshi/recruitman/internal/model"
)

// Operation は行に対する操作種別を表す。
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Actor はリクエストを実行するアイデンティティ。
// Roleが空の場合はプロフィール未作成の認証済みアイデンティティを表す。
type Actor struct {
	ID   string
	Role model.Role
}

// IsHR は採用担当者かどうかを返す。
func (a Actor) IsHR() bool {
	return a.Role == model.RoleHR
}

// HasProfile はプロフィール作成済み（役割が確定している）かどうかを返す。
func (a Actor) HasProfile() bool {
	return a.Role.Valid()
}

// RequireProfile は認証済みかつプロフィール作成済みであることを確認する。
func (a Actor) RequireProfile() error {
	if a.ID == "" {
		return model.NewUnauthorizedError()
	}
	if !a.HasProfile() {
		return model.NewProfileRequiredError()
	}
	return nil
}

// Predicate は1行に対する許可判定。
type Predicate[T any] func(ctx context.Context, a Actor, row *T) (bool, error)

// UpdatePredicate は更新前後の行に対する許可判定。
type UpdatePredicate[T any] func(ctx context.Context, a Actor, old, new *T) (bool, error)

// DenyObserver は拒否された操作を受け取るコールバック。
type DenyObserver func(table string, op Operation)

// Policy は1テーブル分の述語セット。
// 操作ごとのリストが空の場合、その操作は常に拒否される。
type Policy[T any] struct {
	Table  string
	Select []Predicate[T]
	Insert []Predicate[T]
	Update []UpdatePredicate[T]
	Delete []Predicate[T]

	observer *DenyObserver
}

// CanSelect は行を参照できるかを判定する。
func (p *Policy[T]) CanSelect(ctx context.Context, a Actor, row *T) (bool, error) {
	return p.decide(ctx, OpSelect, a, row, p.Select)
}

// CanInsert は行を作成できるかを判定する。
func (p *Policy[T]) CanInsert(ctx context.Context, a Actor, row *T) (bool, error) {
	return p.decide(ctx, OpInsert, a, row, p.Insert)
}

// CanDelete は行を削除できるかを判定する。
func (p *Policy[T]) CanDelete(ctx context.Context, a Actor, row *T) (bool, error) {
	return p.decide(ctx, OpDelete, a, row, p.Delete)
}

// CanUpdate は格納済みの行oldを提案された行newに更新できるかを判定する。
func (p *Policy[T]) CanUpdate(ctx context.Context, a Actor, old, new *T) (bool, error) {
	for _, pred := range p.Update {
		ok, err := pred(ctx, a, old, new)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	p.notify(OpUpdate)
	return false, nil
}

// Filter は参照可能な行だけを残したスライスを返す。
// 一覧表示で権限のない行を存在しないものとして扱うために使う。
func (p *Policy[T]) Filter(ctx context.Context, a Actor, rows []*T) ([]*T, error) {
	visible := make([]*T, 0, len(rows))
	for _, row := range rows {
		ok, err := anyOf(ctx, a, row, p.Select)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, row)
		}
	}
	return visible, nil
}

func (p *Policy[T]) decide(ctx context.Context, op Operation, a Actor, row *T, preds []Predicate[T]) (bool, error) {
	ok, err := anyOf(ctx, a, row, preds)
	if err != nil {
		return false, err
	}
	if !ok {
		p.notify(op)
	}
	return ok, nil
}

func (p *Policy[T]) notify(op Operation) {
	if p.observer != nil && *p.observer != nil {
		(*p.observer)(p.Table, op)
	}
}

func anyOf[T any](ctx context.Context, a Actor, row *T, preds []Predicate[T]) (bool, error) {
	for _, pred := range preds {
		ok, err := pred(ctx, a, row)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
