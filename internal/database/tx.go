package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
// リポジトリはこれを受け取り、トランザクション内外のどちらでも動作する。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクションを開始できる接続。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合はロールバックし、成功した場合はコミットする。
func WithTx(ctx context.Context, db TxBeginner, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("ロールバックに失敗しました", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Savepoint はトランザクション内でfnをセーブポイントに囲んで実行する。
// fnが失敗した場合はセーブポイントまで巻き戻し、外側のトランザクションは継続可能な状態に保つ。
func Savepoint(ctx context.Context, tx DBTX, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("セーブポイントの作成に失敗しました: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("セーブポイントへの巻き戻しに失敗しました: %v (元のエラー: %w)", rbErr, err)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("セーブポイントの解放に失敗しました: %w", err)
	}
	return nil
}
