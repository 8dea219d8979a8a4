package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はスクレイピングで得たタイトルやタグからHTMLを除去し、
// 通知メールに埋め込める平文に整える。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。全てのタグを除去するStrictPolicyを使用する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// CleanText はタグを除去し、実体参照を復元し、空白を1つにまとめる。
func (s *TextSanitizer) CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

// CleanTags は各タグをCleanTextで整え、空のタグと大文字小文字違いの重複を除く。
// 順序は最初の出現順を維持する。
func (s *TextSanitizer) CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		clean := s.CleanText(tag)
		key := strings.ToLower(clean)
		if clean == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, clean)
	}
	return out
}
