// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は通知のタイトル・本文からHTMLをすべて除去する。
// 通知テキストはトーストやPush通知としてそのまま表示される平文であり、
// マークアップを許可する理由がないため、許可リストは空にする。
package security

import "github.com/microcosm-cc/bluemonday"

// TextSanitizerService は通知テキストのサニタイズ機能のインターフェース。
// 通知の保存前（作成API）に使用される。
type TextSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去した平文を返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去し、テキストのみを残す。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からすべてのHTMLタグを除去した平文を返す。
func (s *textSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
