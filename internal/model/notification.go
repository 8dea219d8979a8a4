package model

import (
	"fmt"
	"time"
)

// Notification は配信待ちキューに積まれた1件の通知を表す。
// Deleted=false が配信待ち、Deleted=true が配信済み（終端状態）。
// 物理削除は行わない。
type Notification struct {
	ID             string
	SubscriptionID string
	Email          string
	Heading        string
	PostURL        string
	PostTitle      string
	MaturityDate   time.Time
	Deleted        bool
	CreatedAt      time.Time
	DeliveredAt    *time.Time
}

// Heading はダイジェスト内の見出し（パブリッシャー名とトピック）を組み立てる。
func Heading(publisherName string, topic Topic) string {
	return fmt.Sprintf("%s, %s", publisherName, topic)
}
