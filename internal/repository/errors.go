package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
const (
	pqCodeInvalidText   = "22P02"
	pqCodeStringTooLong = "22001"
	pqCodeNotNull       = "23502"
	pqCodeForeignKey    = "23503"
	pqCodeUnique        = "23505"
	pqCodeCheck         = "23514"
)

// wrapError はデータベースのエラーを呼び出し元向けに変換する。
// 制約違反はmodel.APIErrorに変換し、それ以外はmsgを付けてラップする。
func wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if reason, ok := constraintReason(pqErr.Code); ok {
			return model.NewConstraintViolationError(constraintField(pqErr), reason)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func constraintReason(code pq.ErrorCode) (string, bool) {
	switch code {
	case pqCodeCheck:
		return "値が許可された範囲外です", true
	case pqCodeForeignKey:
		return "参照先が存在しません", true
	case pqCodeNotNull:
		return "必須項目が指定されていません", true
	case pqCodeUnique:
		return "値が重複しています", true
	case pqCodeInvalidText:
		return "値の形式が不正です", true
	case pqCodeStringTooLong:
		return "値が長すぎます", true
	}
	return "", false
}

// constraintField は制約違反の対象フィールド名を推定する。
// 列名が得られない場合は制約名からテーブル名と接尾辞を取り除く。
func constraintField(e *pq.Error) string {
	if e.Column != "" {
		return e.Column
	}
	name := e.Constraint
	if name == "" {
		return ""
	}
	if e.Table != "" {
		name = strings.TrimPrefix(name, e.Table+"_")
	}
	for _, suffix := range []string{"_fkey", "_check", "_key"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}
