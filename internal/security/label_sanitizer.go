package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// LabelSanitizerService はアップストリーム由来の文字列のサニタイズ機能の
// インターフェースを定義する。データセンターコードなどのプロバイダー応答値は
// HTML通知メールに埋め込まれるため、保存・送信前にマークアップを除去する。
type LabelSanitizerService interface {
	// Sanitize は入力からすべてのHTMLマークアップを除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// labelSanitizer はLabelSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type labelSanitizer struct {
	policy *bluemonday.Policy
}

// NewLabelSanitizer はLabelSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去し、テキストのみを通過させる。
func NewLabelSanitizer() *labelSanitizer {
	return &labelSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLマークアップを除去し、前後の空白を詰めて返す。
func (s *labelSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
