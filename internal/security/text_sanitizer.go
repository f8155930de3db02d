// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はタスクのタイトルと説明からHTMLマークアップを取り除く。
// PasswordHasher はパスワードの鍵導出と定数時間比較を行う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のプレーンテキスト化のインターフェースを定義する。
// タスクの保存前に使用される。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// 前後の空白はトリムする。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// script, style等は中身ごと除去され、それ以外のタグは中身のテキストだけが残る。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は全てのHTMLタグを除去する。
// StrictPolicyがエスケープした文字参照は元の文字に戻す（JSONで返すため）。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
