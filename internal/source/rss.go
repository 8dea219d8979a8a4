package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/blogdigest/internal/model"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// RSSAdapter はRSS/Atomフィードから記事を取得するAdapter。
// フィードURLが未設定の場合は初回取得時にトップページから検出する。
type RSSAdapter struct {
	client     *Client
	homepage   string
	categories map[string]bool

	mu      sync.Mutex
	feedURL string
}

var _ Adapter = (*RSSAdapter)(nil)

// NewRSSAdapter はRSSAdapterを生成する。
// categoriesが空でない場合、いずれかのカテゴリを持つ記事のみを返す。
func NewRSSAdapter(client *Client, feedURL, homepage string, categories []string) *RSSAdapter {
	a := &RSSAdapter{
		client:   client,
		feedURL:  feedURL,
		homepage: homepage,
	}
	if len(categories) > 0 {
		a.categories = make(map[string]bool, len(categories))
		for _, c := range categories {
			a.categories[strings.ToLower(strings.TrimSpace(c))] = true
		}
	}
	return a
}

// Search はフィードを取得し、sinceより後に公開（または更新）された記事を返す。
// 日付を持たない記事は対象期間を判定できないため除外する。
func (a *RSSAdapter) Search(ctx context.Context, since time.Time) ([]model.ScrapedPost, error) {
	feedURL, err := a.resolveFeedURL(ctx)
	if err != nil {
		return nil, err
	}

	body, err := a.client.Get(ctx, feedURL, feedAccept)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: フィードのパースに失敗: %w", model.ErrSourceUnavailable, err)
	}

	var posts []model.ScrapedPost
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		published := itemTime(item)
		if published == nil || !published.After(since) {
			continue
		}
		if !a.matchesCategory(item.Categories) {
			continue
		}
		posts = append(posts, model.ScrapedPost{
			Title:     item.Title,
			URL:       item.Link,
			Tags:      item.Categories,
			Published: published.UTC(),
			Snippet:   item.Description,
		})
	}
	return posts, nil
}

func (a *RSSAdapter) resolveFeedURL(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.feedURL != "" {
		return a.feedURL, nil
	}
	if a.homepage == "" {
		return "", fmt.Errorf("%w: feed_urlとhomepageのいずれも設定されていません", model.ErrSourceUnavailable)
	}
	u, err := DiscoverFeed(ctx, a.client, a.homepage)
	if err != nil {
		return "", err
	}
	a.feedURL = u
	return u, nil
}

func (a *RSSAdapter) matchesCategory(tags []string) bool {
	if a.categories == nil {
		return true
	}
	for _, t := range tags {
		if a.categories[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}

// itemTime は公開日時、なければ更新日時を返す。
func itemTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}
