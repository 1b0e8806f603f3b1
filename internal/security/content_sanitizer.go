// Package security はコンソールのセキュリティ機能を提供する。
//
// ContentSanitizerService はバックエンドや整形関数が返したHTML断片をサニタイズし、
// Webコンソールに埋め込む前にXSSのリスクを取り除く。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// 安全なタグと属性のみを通過させる。
package security

import (
	"html"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// badgeClassPattern はspan/smallに許可するclass属性の値。
var badgeClassPattern = regexp.MustCompile(`^badge(-[a-z]+)?( badge-[a-z]+)*$`)

// ContentSanitizerService はHTML断片のサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
	// 許可タグ（span, strong, em, br, small, code, a）のみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	// spanとsmallのclass属性は"badge"で始まる値のみ許可する。
	// aタグのhrefは相対URLとhttp/httpsのみ許可する。
	// 空文字列の入力には空文字列を返す。
	Sanitize(rawHTML string) string

	// StripTags は全てのタグを除去したテキストを返す。
	StripTags(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type contentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("span", "strong", "em", "br", "small", "code")
	p.AllowAttrs("class").Matching(badgeClassPattern).OnElements("span", "small")
	p.AllowAttrs("title").OnElements("span")

	// 詳細画面へのリンク（相対URL）を許可する
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https")
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// StripTags は全てのタグを除去する。
func (s *contentSanitizer) StripTags(rawHTML string) string {
	return html.UnescapeString(s.strict.Sanitize(rawHTML))
}
