// Package notify は通知生成ステージを提供する。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blogdigest/internal/metrics"
	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
)

// Generator はアクティブな購読ごとにラベル確定済み記事から通知を生成する。
type Generator struct {
	store   repository.Store
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewGenerator はGeneratorの新しいインスタンスを生成する。
func NewGenerator(store repository.Store, m metrics.MetricsCollector, logger *slog.Logger) *Generator {
	return &Generator{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

type postKey struct {
	publisherID string
	topic       model.Topic
}

// runCache は1回の実行内で共有する参照データ。
// 同じ(パブリッシャー, トピック)を購読する受信者が多いため記事一覧を使い回す。
type runCache struct {
	repos      repository.Repos
	posts      map[postKey][]*model.Post
	publishers map[string]*model.Publisher
}

func (c *runCache) labelledPosts(ctx context.Context, publisherID string, topic model.Topic) ([]*model.Post, error) {
	key := postKey{publisherID: publisherID, topic: topic}
	if posts, ok := c.posts[key]; ok {
		return posts, nil
	}
	posts, err := c.repos.Posts.ListLabelled(ctx, publisherID, topic)
	if err != nil {
		return nil, err
	}
	c.posts[key] = posts
	return posts, nil
}

func (c *runCache) publisher(ctx context.Context, id string) (*model.Publisher, error) {
	if p, ok := c.publishers[id]; ok {
		return p, nil
	}
	p, err := c.repos.Publishers.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.publishers[id] = p
	return p, nil
}

// RunOnce は全アクティブ購読について通知を1回生成する。
// 購読者ごとに1トランザクションで挿入し、失敗した購読者はロールバックして次へ進む。
func (g *Generator) RunOnce(ctx context.Context) (report model.RunReport, runErr error) {
	began := time.Now()
	report = model.RunReport{Stage: model.StageNotify, StartedAt: g.now().UTC()}
	defer func() {
		report.Duration = time.Since(began)
		g.metrics.RecordStageDuration(string(model.StageNotify), report.Duration)
	}()

	repos := g.store.Repos()
	subs, err := repos.Subscriptions.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("アクティブな購読の取得に失敗しました: %w", err)
	}

	cache := &runCache{
		repos:      repos,
		posts:      make(map[postKey][]*model.Post),
		publishers: make(map[string]*model.Publisher),
	}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Add(g.notifySubscriber(ctx, cache, sub))
	}

	created := report.Total()
	g.metrics.RecordNotificationsCreated(created)
	g.logger.Info("通知の生成が完了しました",
		slog.Int("subscriptions", len(subs)),
		slog.Int("created", created),
		slog.Int("failed", report.Failed()),
		slog.Float64("duration_ms", float64(time.Since(began).Milliseconds())),
	)
	return report, nil
}

func (g *Generator) notifySubscriber(ctx context.Context, cache *runCache, sub *model.Subscription) model.UnitResult {
	unit := fmt.Sprintf("%s/%s", sub.Email, sub.ID)
	res := model.UnitResult{Unit: unit}
	log := g.logger.With(
		slog.String("subscription_id", sub.ID),
		slog.String("email", sub.Email),
		slog.String("topic", string(sub.Topic)),
	)

	pub, err := cache.publisher(ctx, sub.PublisherID)
	if err != nil {
		log.Error("パブリッシャーの取得に失敗しました", slog.String("error", err.Error()))
		res.Err = model.NewUnitError(model.StageNotify, unit, model.ErrPersistenceFailure, err)
		return res
	}
	if pub == nil {
		log.Warn("購読先のパブリッシャーが存在しないためスキップします", slog.String("publisher_id", sub.PublisherID))
		res.Skipped = true
		return res
	}

	posts, err := cache.labelledPosts(ctx, sub.PublisherID, sub.Topic)
	if err != nil {
		log.Error("記事の取得に失敗しました", slog.String("error", err.Error()))
		res.Err = model.NewUnitError(model.StageNotify, unit, model.ErrPersistenceFailure, err)
		return res
	}

	watermark := sub.Watermark()
	var eligible []*model.Post
	for _, p := range posts {
		if !p.ModifiedAt.Before(watermark) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return res
	}

	now := g.now().UTC()
	maturity := sub.MaturityDate()
	heading := model.Heading(pub.Name, sub.Topic)
	email := model.NormalizeEmail(sub.Email)

	inserted := 0
	err = g.store.InTx(ctx, func(r repository.Repos) error {
		for _, p := range eligible {
			ok, err := r.Notifications.InsertIfNoPending(ctx, &model.Notification{
				ID:             uuid.New().String(),
				SubscriptionID: sub.ID,
				Email:          email,
				Heading:        heading,
				PostURL:        p.URL,
				PostTitle:      p.Title,
				MaturityDate:   maturity,
				CreatedAt:      now,
			})
			if err != nil {
				return fmt.Errorf("通知の保存に失敗しました: %s: %w", p.URL, err)
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		log.Error("通知の生成をロールバックしました", slog.String("error", err.Error()))
		res.Err = model.NewUnitError(model.StageNotify, unit, model.ErrPersistenceFailure, err)
		return res
	}

	if inserted > 0 {
		log.Info("通知を生成しました",
			slog.String("heading", heading),
			slog.Int("created", inserted),
			slog.Time("maturity_date", maturity),
		)
	}
	res.Count = inserted
	return res
}
