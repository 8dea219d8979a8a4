// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Publisher は記事の取得元となるブログ（パブリッシャー）を表す。
type Publisher struct {
	ID            string
	Name          string
	Type          PublisherType
	LastScrapedAt *time.Time // nilは未取得を表す
	CreatedAt     time.Time
}

// PublisherType はパブリッシャーの種別を表す。
type PublisherType string

const (
	// PublisherTypeTechTeam は企業の技術チームブログ。取り込み対象となる唯一の種別。
	PublisherTypeTechTeam PublisherType = "techteam"
	// PublisherTypeIndividual は個人ブログ。
	PublisherTypeIndividual PublisherType = "individual"
	// PublisherTypeCommunity はコミュニティブログ。
	PublisherTypeCommunity PublisherType = "community"
)

// ParsePublisherType は文字列をPublisherTypeに変換する。
// 大文字小文字と前後の空白は無視する。
func ParsePublisherType(s string) (PublisherType, bool) {
	switch PublisherType(strings.ToLower(strings.TrimSpace(s))) {
	case PublisherTypeTechTeam:
		return PublisherTypeTechTeam, true
	case PublisherTypeIndividual:
		return PublisherTypeIndividual, true
	case PublisherTypeCommunity:
		return PublisherTypeCommunity, true
	default:
		return "", false
	}
}

// NormalizePublisherName はパブリッシャー名を正規化する（小文字化とトリム）。
func NormalizePublisherName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
