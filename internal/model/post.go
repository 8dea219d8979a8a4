package model

import "time"

// Post はパブリッシャーから取り込んだ記事を表す。
// URLが重複排除の自然キーとなる。
type Post struct {
	ID          string
	PublisherID string
	URL         string
	Title       string
	Tags        []string
	PublishedAt time.Time
	ModifiedAt  time.Time
	Topic       Topic
	// Labelled がfalseの場合は分類器による暫定トピック、trueの場合は確定済み。
	Labelled  bool
	CreatedAt time.Time
}

// ScrapedPost はContent Source Adapterが返す未保存の記事データを表す。
// 取り込みステージで分類された後、Postとして保存される。
type ScrapedPost struct {
	Title     string
	URL       string
	Tags      []string
	Published time.Time
	Snippet   string
}
