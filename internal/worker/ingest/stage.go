// Package ingest は取り込みステージを提供する。
// アクティブな購読を持つtechteamパブリッシャーごとに記事を取得・分類・保存し、
// 取得カーソル（last_scraped_at）を進める。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/blogdigest/internal/classifier"
	"github.com/hitoshi/blogdigest/internal/metrics"
	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
	"github.com/hitoshi/blogdigest/internal/source"
)

// DefaultFloor は一度も取得していないパブリッシャーの取得開始時刻。
var DefaultFloor = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// AdapterResolver はパブリッシャー名から取得アダプタを引くインターフェース。
type AdapterResolver interface {
	Resolve(name string) (source.Adapter, bool)
}

// Sanitizer は取得したテキストを平文に整えるインターフェース。
type Sanitizer interface {
	CleanText(raw string) string
	CleanTags(tags []string) []string
}

// Config は取り込みステージの設定。
type Config struct {
	// Floor はlast_scraped_atが未設定の場合の取得開始時刻。
	Floor time.Time
	// UnitTimeout は1パブリッシャーあたりの処理時間の上限。0以下は無制限。
	UnitTimeout time.Duration
	// MaxConcurrent はパブリッシャーを並列処理する最大数。1以下は逐次処理。
	MaxConcurrent int
}

// Stage は取り込みステージ。
type Stage struct {
	store      repository.Store
	adapters   AdapterResolver
	classifier classifier.Classifier
	sanitizer  Sanitizer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// NewStage はStageの新しいインスタンスを生成する。
func NewStage(
	store repository.Store,
	adapters AdapterResolver,
	c classifier.Classifier,
	sanitizer Sanitizer,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Stage {
	if cfg.Floor.IsZero() {
		cfg.Floor = DefaultFloor
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Stage{
		store:      store,
		adapters:   adapters,
		classifier: c,
		sanitizer:  sanitizer,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func (s *Stage) WithClock(now func() time.Time) *Stage {
	s.now = now
	return s
}

// RunOnce は取り込み対象の全パブリッシャーを1回処理する。
// 個々のパブリッシャーの失敗はRunReportに記録し、他のパブリッシャーの処理は継続する。
// 返すerrorは対象一覧の取得失敗など、実行自体が成立しなかった場合のみ。
func (s *Stage) RunOnce(ctx context.Context) (report model.RunReport, runErr error) {
	began := time.Now()
	report = model.RunReport{Stage: model.StageIngest, StartedAt: s.now().UTC()}
	defer func() {
		report.Duration = time.Since(began)
		s.metrics.RecordStageDuration(string(model.StageIngest), report.Duration)
	}()

	pubs, err := s.store.Repos().Publishers.ListScrapeCandidates(ctx)
	if err != nil {
		return report, fmt.Errorf("取り込み対象パブリッシャーの取得に失敗しました: %w", err)
	}
	if len(pubs) == 0 {
		s.logger.Info("取り込み対象のパブリッシャーはありません")
		return report, nil
	}

	s.logger.Info("取り込みを開始します",
		slog.Int("publisher_count", len(pubs)),
		slog.Int("max_concurrent", s.cfg.MaxConcurrent),
	)

	results := make([]model.UnitResult, len(pubs))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, pub := range pubs {
		g.Go(func() error {
			results[i] = s.ingestPublisher(ctx, pub)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		report.Add(r)
	}

	s.logger.Info("取り込みが完了しました",
		slog.Int("succeeded", report.Succeeded()),
		slog.Int("failed", report.Failed()),
		slog.Int("posts_inserted", report.Total()),
		slog.Float64("duration_ms", float64(time.Since(began).Milliseconds())),
	)
	return report, nil
}

// ingestPublisher は1パブリッシャー分の取得・分類・保存を1トランザクションで行う。
func (s *Stage) ingestPublisher(ctx context.Context, pub *model.Publisher) model.UnitResult {
	res := model.UnitResult{Unit: pub.Name}
	log := s.logger.With(slog.String("publisher_id", pub.ID), slog.String("publisher", pub.Name))

	adapter, ok := s.adapters.Resolve(pub.Name)
	if !ok {
		log.Warn("取得アダプタが登録されていないためスキップします")
		res.Skipped = true
		return res
	}

	if s.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.UnitTimeout)
		defer cancel()
	}

	since := s.cfg.Floor
	if pub.LastScrapedAt != nil {
		since = *pub.LastScrapedAt
	}

	scraped, err := adapter.Search(ctx, since)
	if err != nil {
		log.Error("記事の取得に失敗しました",
			slog.Time("since", since),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordPublisherFailed("source_unavailable")
		res.Err = model.NewUnitError(model.StageIngest, pub.Name, model.ErrSourceUnavailable, err)
		return res
	}
	if len(scraped) == 0 {
		log.Info("新しい記事はありません", slog.Time("since", since))
		s.metrics.RecordPublisherScraped()
		return res
	}

	posts := s.preparePosts(ctx, log, pub, scraped)

	inserted := 0
	err = s.store.InTx(ctx, func(r repository.Repos) error {
		for _, p := range posts {
			_, ok, err := r.Posts.InsertIfAbsent(ctx, p)
			if err != nil {
				return fmt.Errorf("記事の保存に失敗しました: %s: %w", p.URL, err)
			}
			if ok {
				inserted++
				log.Debug("記事を保存しました",
					slog.String("post_url", p.URL),
					slog.String("topic", string(p.Topic)),
				)
			}
		}
		return r.Publishers.UpdateLastScrapedAt(ctx, pub.ID, s.now().UTC())
	})
	if err != nil {
		log.Error("取り込みをロールバックしました", slog.String("error", err.Error()))
		s.metrics.RecordPublisherFailed("persistence_failure")
		res.Err = model.NewUnitError(model.StageIngest, pub.Name, model.ErrPersistenceFailure, err)
		return res
	}

	s.metrics.RecordPublisherScraped()
	s.metrics.RecordPostsIngested(inserted)
	log.Info("パブリッシャーの取り込みが完了しました",
		slog.Int("fetched", len(scraped)),
		slog.Int("inserted", inserted),
	)
	res.Count = inserted
	return res
}

// preparePosts は取得結果を整形・分類してPostに変換する。分類はトランザクション外で行う。
// 同一バッチ内でURLが重複する場合は最初の1件のみを残す。
func (s *Stage) preparePosts(ctx context.Context, log *slog.Logger, pub *model.Publisher, scraped []model.ScrapedPost) []*model.Post {
	now := s.now().UTC()
	seen := make(map[string]bool, len(scraped))
	posts := make([]*model.Post, 0, len(scraped))

	for _, sp := range scraped {
		if sp.URL == "" || seen[sp.URL] {
			continue
		}
		seen[sp.URL] = true

		title := s.sanitizer.CleanText(sp.Title)
		tags := s.sanitizer.CleanTags(sp.Tags)
		doc := classifier.Document{Title: title, Tags: tags, Snippet: s.sanitizer.CleanText(sp.Snippet)}

		topic, err := s.classifier.Classify(ctx, doc)
		if err != nil || !topic.Valid() {
			switch {
			case err == nil:
				log.Warn("分類器が未知のトピックを返したためGeneralとして保存します",
					slog.String("post_url", sp.URL),
					slog.String("topic", string(topic)),
				)
			case errors.Is(err, model.ErrClassificationUncertain):
				log.Warn("分類できなかったためGeneralとして保存します",
					slog.String("post_url", sp.URL),
					slog.String("title", title),
				)
			default:
				log.Warn("分類器がエラーを返したためGeneralとして保存します",
					slog.String("post_url", sp.URL),
					slog.String("error", err.Error()),
				)
			}
			topic = model.TopicGeneral
			s.metrics.RecordClassifierFallback()
		}

		published := sp.Published.UTC()
		if published.IsZero() {
			published = now
		}
		posts = append(posts, &model.Post{
			ID:          uuid.New().String(),
			PublisherID: pub.ID,
			URL:         sp.URL,
			Title:       title,
			Tags:        tags,
			PublishedAt: published,
			ModifiedAt:  now,
			Topic:       topic,
			Labelled:    false,
			CreatedAt:   now,
		})
	}
	return posts
}
