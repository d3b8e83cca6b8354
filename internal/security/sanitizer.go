// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は利用者が入力したリッチテキスト（求人の説明・応募動機・メッセージ・評価メモ）を
// 保存前にサニタイズする。bluemondayのUGCポリシーを基に、リンクへの属性付与を強制する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は利用者入力のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はscript・iframe・style・on*属性を除去した安全なHTMLを返す。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。ポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// ポリシーの内容:
//   - bluemonday.UGCPolicy の許可タグ・属性
//   - 相対URLは不許可
//   - 外部リンクに target="_blank" と rel="noreferrer noopener" を付与
func NewTextSanitizer() TextSanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &textSanitizer{policy: p}
}

func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return s.policy.Sanitize(raw)
}
