package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/blogdigest/internal/model"
)

// FeedLink はブログのトップページから検出したフィードへのリンク。
type FeedLink struct {
	URL   string
	Atom  bool
	Title string
}

// ParseFeedLinks はHTMLのhead内にある<link rel="alternate">からRSS/Atomフィードを抽出する。
// 相対URLはbaseURLを基準に解決する。
func ParseFeedLinks(body []byte, baseURL string) []FeedLink {
	var links []FeedLink

	base, err := url.Parse(baseURL)
	if err != nil {
		return links
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := readAttrs(z)
			if !hasRel(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}
			var atom bool
			switch strings.ToLower(attrs["type"]) {
			case "application/atom+xml":
				atom = true
			case "application/rss+xml":
			default:
				continue
			}

			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			links = append(links, FeedLink{
				URL:   base.ResolveReference(ref).String(),
				Atom:  atom,
				Title: attrs["title"],
			})

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		}
	}
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

// hasRel はrel属性（空白区切りの複数値）にvalueが含まれるかを返す。
func hasRel(rel, value string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == value {
			return true
		}
	}
	return false
}

// SelectFeed は候補から1つを選ぶ。優先順位は 同一ホスト > Atom > 出現順。
func SelectFeed(links []FeedLink, pageURL string) (FeedLink, bool) {
	if len(links) == 0 {
		return FeedLink{}, false
	}
	pageHost := hostOf(pageURL)

	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 100
		}
		if l.Atom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DiscoverFeed はブログのトップページを取得し、フィードURLを検出する。
func DiscoverFeed(ctx context.Context, client *Client, homepage string) (string, error) {
	body, err := client.Get(ctx, homepage, "text/html, application/xhtml+xml")
	if err != nil {
		return "", err
	}
	link, ok := SelectFeed(ParseFeedLinks(body, homepage), homepage)
	if !ok {
		return "", fmt.Errorf("%w: フィードが見つかりません: %s", model.ErrSourceUnavailable, homepage)
	}
	return link.URL, nil
}
