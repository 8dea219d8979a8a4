// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

// PublisherRepository はパブリッシャーの永続化インターフェース。
type PublisherRepository interface {
	// Create は名前が未登録の場合のみパブリッシャーを作成する。
	// 既に存在する場合は既存行とcreated=falseを返す。
	Create(ctx context.Context, p *model.Publisher) (pub *model.Publisher, created bool, err error)

	// FindByID は指定IDのパブリッシャーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Publisher, error)

	// FindByName は名前でパブリッシャーを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Publisher, error)

	// List はパブリッシャー一覧を名前順で返す。pubTypeが空の場合は全種別を返す。
	List(ctx context.Context, pubType model.PublisherType) ([]*model.Publisher, error)

	// ListScrapeCandidates はアクティブな購読が1件以上あるtechteam種別のパブリッシャーを返す。
	ListScrapeCandidates(ctx context.Context) ([]*model.Publisher, error)

	// UpdateLastScrapedAt は取得カーソルを更新する。
	UpdateLastScrapedAt(ctx context.Context, id string, at time.Time) error
}

// PostRepository は記事の永続化インターフェース。
type PostRepository interface {
	// InsertIfAbsent はURLが未登録の場合のみ記事を作成する。
	// 既に存在する場合は既存行を変更せずにinserted=falseで返す。
	InsertIfAbsent(ctx context.Context, post *model.Post) (stored *model.Post, inserted bool, err error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindByURL はURLで記事を取得する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Post, error)

	// ListLabelled は(パブリッシャー, トピック)のラベル確定済み記事をmodified_at順で返す。
	ListLabelled(ctx context.Context, publisherID string, topic model.Topic) ([]*model.Post, error)

	// ListUnlabelled はラベル未確定の記事を古い順に最大limit件返す。
	ListUnlabelled(ctx context.Context, limit int) ([]*model.Post, error)

	// ListAllLabelled は全てのラベル確定済み記事を返す（分類モデルの学習用）。
	ListAllLabelled(ctx context.Context) ([]*model.Post, error)

	// Relabel はトピックを確定し、labelled=true、modified_at=atに更新する。
	// 見つからない場合はnilを返す。
	Relabel(ctx context.Context, id string, topic model.Topic, at time.Time) (*model.Post, error)
}

// SubscriptionRepository は購読の永続化インターフェース。
type SubscriptionRepository interface {
	// Create は(email, publisher_id, topic)が未登録の場合のみ購読を作成する。
	// 既に存在する場合は既存行とcreated=falseを返す。
	Create(ctx context.Context, sub *model.Subscription) (stored *model.Subscription, created bool, err error)

	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// FindByKey は(email, publisher_id, topic)で購読を取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, email, publisherID string, topic model.Topic) (*model.Subscription, error)

	// ListActive はアクティブな購読を全て返す。
	ListActive(ctx context.Context) ([]*model.Subscription, error)

	// ListActiveByPublisher は指定パブリッシャーのアクティブな購読を返す。
	ListActiveByPublisher(ctx context.Context, publisherID string) ([]*model.Subscription, error)

	// ListByEmail は指定受信者の購読を非アクティブなものも含めて返す。
	ListByEmail(ctx context.Context, email string) ([]*model.Subscription, error)

	// Deactivate は購読を論理削除する。対象が存在しない場合はfalseを返す。
	Deactivate(ctx context.Context, id string) (bool, error)

	// Reactivate は購読を再開し、ウォーターマークをatまで進める（後退はしない）。
	Reactivate(ctx context.Context, id string, at time.Time) (bool, error)

	// UpdateFrequency は通知間隔を更新する。
	UpdateFrequency(ctx context.Context, id string, days int) (bool, error)

	// AdvanceWatermark は指定購読のlast_notified_atをatに進める。
	// 既にat以降のウォーターマークを持つ購読は変更しない。
	AdvanceWatermark(ctx context.Context, ids []string, at time.Time) (int64, error)
}

// NotificationRepository は通知キューの永続化インターフェース。
type NotificationRepository interface {
	// InsertIfNoPending は同一(email, post_url)の配信待ち通知が無い場合のみ挿入する。
	InsertIfNoPending(ctx context.Context, n *model.Notification) (bool, error)

	// ListMature は配信待ちかつmaturity_date <= nowの通知を挿入順で返す。
	// 非アクティブな購読から生成された通知は含めない。
	ListMature(ctx context.Context, now time.Time) ([]*model.Notification, error)

	// ListByEmail は指定受信者の通知を配信済みも含めて挿入順で返す。
	ListByEmail(ctx context.Context, email string) ([]*model.Notification, error)

	// MarkDelivered は通知を配信済み（deleted=true）にする。
	MarkDelivered(ctx context.Context, ids []string, at time.Time) (int64, error)
}
