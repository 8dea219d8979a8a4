package model

import (
	"strings"
	"time"
)

// DefaultFrequencyInDays は購読の通知間隔のデフォルト値（日）。
const DefaultFrequencyInDays = 3

// Subscription は受信者の(パブリッシャー, トピック)に対する購読を表す。
// (email, publisher_id, topic) の組は一意。
type Subscription struct {
	ID              string
	Email           string
	PublisherID     string
	Topic           Topic
	FrequencyInDays int
	JoinedTime      time.Time
	// LastNotifiedAt がnilの場合はJoinedTimeをウォーターマークとして扱う。
	LastNotifiedAt *time.Time
	Active         bool
}

// Watermark は通知済み時刻のウォーターマークを返す。
func (s *Subscription) Watermark() time.Time {
	if s.LastNotifiedAt != nil {
		return *s.LastNotifiedAt
	}
	return s.JoinedTime
}

// MaturityDate はこの購読で生成する通知の配信可能時刻を返す。
// 前回のウォーターマークから通知間隔を加算した時刻となる。
func (s *Subscription) MaturityDate() time.Time {
	return s.Watermark().Add(time.Duration(s.FrequencyInDays) * 24 * time.Hour)
}

// NormalizeEmail はメールアドレスを正規化する（小文字化とトリム）。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
