package delivery

import (
	"github.com/hitoshi/blogdigest/internal/mail"
	"github.com/hitoshi/blogdigest/internal/model"
)

// Digest は1受信者分の配信内容。
type Digest struct {
	Email    string
	Sections []mail.Section
	// NotificationIDs は重複として畳み込んだ行も含む、このダイジェストに寄与した全通知のID。
	NotificationIDs []string
	// SubscriptionIDs は寄与した通知の生成元購読（重複なし、出現順）。
	SubscriptionIDs []string
}

// ItemCount はダイジェストに載る記事数を返す。
func (d Digest) ItemCount() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Items)
	}
	return n
}

type dedupKey struct {
	email   string
	postURL string
}

// BuildDigests は配信可能な通知を受信者ごとのダイジェストにまとめる。
// (email, post_url)が同じ通知は最初の1件だけを表示に使い、残りはIDのみ記録する。
// 受信者と見出しの並びは入力（挿入順）の初出順を保つ。
func BuildDigests(ns []*model.Notification) []Digest {
	var digests []Digest
	byEmail := make(map[string]int)
	sectionIndex := make(map[string]map[string]int)
	seenSub := make(map[string]map[string]bool)
	seenPost := make(map[dedupKey]bool)

	for _, n := range ns {
		email := model.NormalizeEmail(n.Email)
		di, ok := byEmail[email]
		if !ok {
			di = len(digests)
			byEmail[email] = di
			digests = append(digests, Digest{Email: email})
			sectionIndex[email] = make(map[string]int)
			seenSub[email] = make(map[string]bool)
		}
		d := &digests[di]

		d.NotificationIDs = append(d.NotificationIDs, n.ID)
		if n.SubscriptionID != "" && !seenSub[email][n.SubscriptionID] {
			seenSub[email][n.SubscriptionID] = true
			d.SubscriptionIDs = append(d.SubscriptionIDs, n.SubscriptionID)
		}

		key := dedupKey{email: email, postURL: n.PostURL}
		if seenPost[key] {
			continue
		}
		seenPost[key] = true

		si, ok := sectionIndex[email][n.Heading]
		if !ok {
			si = len(d.Sections)
			sectionIndex[email][n.Heading] = si
			d.Sections = append(d.Sections, mail.Section{Heading: n.Heading})
		}
		d.Sections[si].Items = append(d.Sections[si].Items, mail.Item{Title: n.PostTitle, URL: n.PostURL})
	}
	return digests
}
