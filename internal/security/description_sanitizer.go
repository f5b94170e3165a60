// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer は講師が入力した講座説明のHTMLをサニタイズする。
// 講座説明はリッチテキストエディタの出力をそのまま受け取り、カタログで他のユーザーに表示されるため、
// bluemondayの許可リストポリシーで安全なタグと属性のみを通過させる。
package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var httpsURL = regexp.MustCompile(`^https://`)

// HTMLSanitizer はHTMLのサニタイズ機能のインターフェース。
// 講座登録時とカタログ応答時に使用される。
type HTMLSanitizer interface {
	// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// descriptionSanitizer はHTMLSanitizerの実装。ポリシーは生成後に変更しないため並行利用できる。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer は講座説明用のサニタイザーを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, h1, h2, h3, ul, ol, li, blockquote, pre, code, strong, em, u, s, a, img
//   - script, iframe, style および全てのon*イベント属性は除去
//   - aのhrefはhttp/https/mailtoの絶対URLのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - imgのsrcはhttpsのみ
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "h1", "h2", "h3",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "u", "s",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("http", "https", "mailto")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	// httpの画像は混在コンテンツになるためsrcを除去する
	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")
	p.AllowAttrs("alt").OnElements("img")

	return &descriptionSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLをサニタイズして安全なHTMLを返す。
func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
