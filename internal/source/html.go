package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/blogdigest/internal/model"
)

const defaultMaxItems = 50

// Selectors はHTML一覧ページから記事を抽出するためのCSSセレクタ。
// Item以外はItem要素を起点とした相対セレクタ。
type Selectors struct {
	Item       string `yaml:"item"`
	Title      string `yaml:"title"`
	Link       string `yaml:"link"`
	Date       string `yaml:"date"`
	Tag        string `yaml:"tag"`
	DateLayout string `yaml:"date_layout"`
	MaxItems   int    `yaml:"max_items"`
}

// fallbackLayouts はDateLayout未指定時に試す日付書式。
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// HTMLAdapter はフィードを持たないブログの記事一覧ページをスクレイピングするAdapter。
// 一覧は新しい順に並んでいる前提で、since以前の記事に達した時点で走査を終える。
type HTMLAdapter struct {
	client  *Client
	listURL string
	sel     Selectors
}

var _ Adapter = (*HTMLAdapter)(nil)

// NewHTMLAdapter はHTMLAdapterを生成する。
func NewHTMLAdapter(client *Client, listURL string, sel Selectors) *HTMLAdapter {
	if sel.MaxItems <= 0 {
		sel.MaxItems = defaultMaxItems
	}
	if sel.Link == "" {
		sel.Link = "a"
	}
	return &HTMLAdapter{client: client, listURL: listURL, sel: sel}
}

// Search は一覧ページを取得し、sinceより後の記事を返す。
func (a *HTMLAdapter) Search(ctx context.Context, since time.Time) ([]model.ScrapedPost, error) {
	body, err := a.client.Get(ctx, a.listURL, "text/html, application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTMLのパースに失敗: %w", model.ErrSourceUnavailable, err)
	}
	base, err := url.Parse(a.listURL)
	if err != nil {
		return nil, fmt.Errorf("%w: 一覧URLが不正です: %w", model.ErrSourceUnavailable, err)
	}

	var posts []model.ScrapedPost
	doc.Find(a.sel.Item).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= a.sel.MaxItems {
			return false
		}

		published, ok := a.parseDate(s)
		if !ok {
			return true
		}
		if !published.After(since) {
			return false
		}

		link := s.Find(a.sel.Link).First()
		if goquery.NodeName(s) == "a" && a.sel.Link == "a" {
			link = s
		}
		href, _ := link.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if href == "" || err != nil {
			return true
		}

		title := strings.TrimSpace(link.Text())
		if a.sel.Title != "" {
			title = strings.TrimSpace(s.Find(a.sel.Title).First().Text())
		}

		var tags []string
		if a.sel.Tag != "" {
			s.Find(a.sel.Tag).Each(func(_ int, t *goquery.Selection) {
				if tag := strings.TrimSpace(t.Text()); tag != "" {
					tags = append(tags, tag)
				}
			})
		}

		posts = append(posts, model.ScrapedPost{
			Title:     title,
			URL:       base.ResolveReference(ref).String(),
			Tags:      tags,
			Published: published.UTC(),
		})
		return true
	})
	return posts, nil
}

// parseDate は日付要素のdatetime属性、なければテキストを日付として解釈する。
func (a *HTMLAdapter) parseDate(s *goquery.Selection) (time.Time, bool) {
	if a.sel.Date == "" {
		return time.Time{}, false
	}
	el := s.Find(a.sel.Date).First()
	raw, ok := el.Attr("datetime")
	if !ok {
		raw = el.Text()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if a.sel.DateLayout != "" {
		t, err := time.Parse(a.sel.DateLayout, raw)
		return t, err == nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
