package policy

import (
	"context"

	"github.com/hitoshi/recruitman/internal/model"
)

// SelfOwned は行の所有者IDが実行者IDと一致する場合に許可する（自己所有）。
func SelfOwned[T any](owner func(*T) string) Predicate[T] {
	return func(_ context.Context, a Actor, row *T) (bool, error) {
		return a.ID != "" && owner(row) == a.ID, nil
	}
}

// RoleIs は実行者の役割が一致する場合に所有関係を問わず許可する（役割一括）。
func RoleIs[T any](role model.Role) Predicate[T] {
	return func(_ context.Context, a Actor, _ *T) (bool, error) {
		return a.Role == role, nil
	}
}

// StatusIs は状態フィールドが有効値と一致する場合に許可する（状態ゲート）。
// 所有者のバイパスはSelfOwnedと並べて表現する。
func StatusIs[T any, S ~string](status func(*T) S, active S) Predicate[T] {
	return func(_ context.Context, _ Actor, row *T) (bool, error) {
		return status(row) == active, nil
	}
}

// Related は外部キーを辿った先の行の所有者が実行者である場合に許可する（関係チェーン）。
// resolveが空文字を返した場合（参照先なし）は拒否する。
func Related[T any](resolve func(ctx context.Context, row *T) (string, error)) Predicate[T] {
	return func(ctx context.Context, a Actor, row *T) (bool, error) {
		if a.ID == "" {
			return false, nil
		}
		owner, err := resolve(ctx, row)
		if err != nil {
			return false, err
		}
		return owner != "" && owner == a.ID, nil
	}
}

// Holds は実行者と行を受け取る任意の判定関数をそのまま述語として使う。
// 実行者依存の関係チェーン（割り当て済みテスト等）に用いる。
func Holds[T any](check func(ctx context.Context, a Actor, row *T) (bool, error)) Predicate[T] {
	return Predicate[T](check)
}

// All はすべての述語が真の場合にのみ許可する。
func All[T any](preds ...Predicate[T]) Predicate[T] {
	return func(ctx context.Context, a Actor, row *T) (bool, error) {
		for _, pred := range preds {
			ok, err := pred(ctx, a, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Lift は行述語を更新述語に持ち上げる。
// 格納済みの行（USING相当）と更新後の行（WITH CHECK相当）の両方で真であることを要求する。
func Lift[T any](pred Predicate[T]) UpdatePredicate[T] {
	return func(ctx context.Context, a Actor, old, new *T) (bool, error) {
		ok, err := pred(ctx, a, old)
		if err != nil || !ok {
			return false, err
		}
		return pred(ctx, a, new)
	}
}

// LiftOld は行述語を格納済みの行だけに適用する更新述語に持ち上げる。
func LiftOld[T any](pred Predicate[T]) UpdatePredicate[T] {
	return func(ctx context.Context, a Actor, old, _ *T) (bool, error) {
		return pred(ctx, a, old)
	}
}

// AllUpdate はすべての更新述語が真の場合にのみ許可する。
func AllUpdate[T any](preds ...UpdatePredicate[T]) UpdatePredicate[T] {
	return func(ctx context.Context, a Actor, old, new *T) (bool, error) {
		for _, pred := range preds {
			ok, err := pred(ctx, a, old, new)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Unchanged はフィールド値が更新前後で変わらない場合に許可する。
func Unchanged[T any, V comparable](field func(*T) V) UpdatePredicate[T] {
	return func(_ context.Context, _ Actor, old, new *T) (bool, error) {
		return field(old) == field(new), nil
	}
}

// MonotonicFlag は単調フィールドの更新制限を表す。
// 指定された読み手だけが、フラグを終端値trueに設定し、
// それ以外のフィールドを格納済みの値のまま残す更新に限り許可する。
func MonotonicFlag[T any](reader func(*T) string, flag func(*T) bool, sameOtherwise func(old, new *T) bool) UpdatePredicate[T] {
	return func(_ context.Context, a Actor, old, new *T) (bool, error) {
		if a.ID == "" || reader(old) != a.ID {
			return false, nil
		}
		if !flag(new) {
			return false, nil
		}
		return sameOtherwise(old, new), nil
	}
}
