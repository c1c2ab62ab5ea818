// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は解析結果（要約・指摘文）を保存前にプレーンテキスト化する。
// アップロードされた文書の断片がそのまま要約に含まれるため、
// bluemondayのStrictPolicyで全てのタグを除去し、HTMLエスケープ済みの文字列にする。
package security

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はテキストサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、空白を1文字に詰めたテキストを返す。
	// script, styleの中身は破棄される。<, >, & などはエスケープされる。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので複数のワーカーから共有できる。
type textSanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// NewTextSanitizer はTextSanitizerを生成する。
// maxRunes が正の場合、出力はその文字数で切り詰められる（0は無制限）。
func NewTextSanitizer(maxRunes int) *textSanitizer {
	return &textSanitizer{
		policy:   bluemonday.StrictPolicy(),
		maxRunes: maxRunes,
	}
}

// Sanitize はテキストをサニタイズする。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "�")
	}
	// タグ除去で隣接した空白も詰めるため、前後で2回まとめる。
	cleaned := s.policy.Sanitize(collapseSpace(raw))
	cleaned = collapseSpace(cleaned)
	return truncateRunes(cleaned, s.maxRunes)
}

// collapseSpace は制御文字を空白とみなし、連続する空白を1つにまとめる。
func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
}

// truncateRunes はエスケープシーケンスを途中で切らないように文字数で切り詰める。
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)[:max]
	if i := strings.LastIndexByte(string(runes), '&'); i >= 0 && !strings.ContainsRune(string(runes)[i:], ';') {
		return string(runes)[:i]
	}
	return string(runes)
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
