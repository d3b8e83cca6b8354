// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, resource, upstream, system
	Action   string // ユーザー向け対処方法
	Field    string // 制約違反の対象フィールド（特定できる場合のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeConstraintViolation = "CONSTRAINT_VIOLATION"
	ErrCodeUpstreamFailure     = "UPSTREAM_FAILURE"
	ErrCodeProfileRequired     = "PROFILE_REQUIRED"
	ErrCodeProfileExists       = "PROFILE_EXISTS"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// 対象行の存在有無は一切含めない。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作は許可されていません。",
		Category: "auth",
		Action:   "権限を持つアカウントで操作してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
// 参照権限のない行もこのエラーとして扱う。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません。", resource),
		Category: "resource",
		Action:   "IDを確認してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Field:    field,
	}
}

// NewConstraintViolationError はデータベース制約違反エラーを生成する。
func NewConstraintViolationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConstraintViolation,
		Message:  fmt.Sprintf("データ制約に違反しています: %s", reason),
		Category: "validation",
		Action:   "入力内容と参照先のIDを確認してください。",
		Field:    field,
	}
}

// NewUpstreamError は外部連携先（ストレージ、メール等）の障害エラーを生成する。
func NewUpstreamError(collaborator string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  fmt.Sprintf("外部サービス（%s）の呼び出しに失敗しました。", collaborator),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProfileRequiredError はプロフィール未作成エラーを生成する。
func NewProfileRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileRequired,
		Message:  "プロフィールが作成されていません。",
		Category: "auth",
		Action:   "先にプロフィールを作成してください。",
	}
}

// NewProfileExistsError はプロフィールの二重作成エラーを生成する。
func NewProfileExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileExists,
		Message:  "プロフィールは既に作成されています。",
		Category: "validation",
		Action:   "プロフィールの更新を行ってください。",
	}
}

// NewConflictError は同じリソースへの並行した更新と競合したエラーを生成する。
func NewConflictError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  resource + "は他の操作によって更新されました。",
		Category: "validation",
		Action:   "最新の状態を確認してから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディ解析エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}
