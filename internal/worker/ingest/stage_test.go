package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/blogdigest/internal/classifier"
	"github.com/hitoshi/blogdigest/internal/metrics"
	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/security"
	"github.com/hitoshi/blogdigest/internal/source"
	"github.com/hitoshi/blogdigest/internal/testsupport"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// mockClassifier はタイトルに"ml"を含めばData Science、それ以外は判定不能を返す。
type mockClassifier struct{}

func (mockClassifier) Classify(_ context.Context, doc classifier.Document) (model.Topic, error) {
	if strings.Contains(strings.ToLower(doc.Title), "ml") {
		return model.TopicDataScience, nil
	}
	return model.TopicGeneral, model.ErrClassificationUncertain
}

// fakeAdapter は呼び出し時のsinceを記録し、固定の結果を返す。
type fakeAdapter struct {
	mu     sync.Mutex
	posts  []model.ScrapedPost
	err    error
	sinces []time.Time
}

func (f *fakeAdapter) Search(_ context.Context, since time.Time) ([]model.ScrapedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	return f.posts, f.err
}

type fixture struct {
	store    *testsupport.MemStore
	registry *source.Registry
	clock    *testsupport.Clock
	logs     *bytes.Buffer
	stage    *Stage
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    testsupport.NewMemStore(),
		registry: source.NewRegistry(),
		clock:    testsupport.NewClock(t0),
		logs:     &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.stage = NewStage(f.store, f.registry, mockClassifier{}, security.NewTextSanitizer(), metrics.Nop{}, logger, cfg).
		WithClock(f.clock.Now)
	return f
}

// subscribedPublisher はアクティブな購読を1件持つパブリッシャーを作成する。
func (f *fixture) subscribedPublisher(t *testing.T, name string, pubType model.PublisherType) *model.Publisher {
	t.Helper()
	pub := testsupport.MustPublisher(t, f.store, name, pubType)
	testsupport.MustSubscription(t, f.store, "a@x.com", pub, model.TopicDataScience, 1, t0)
	return pub
}

func (f *fixture) publisher(t *testing.T, name string) *model.Publisher {
	t.Helper()
	p, err := f.store.Repos().Publishers.FindByName(context.Background(), name)
	if err != nil || p == nil {
		t.Fatalf("FindByName(%s) = %v, %v", name, p, err)
	}
	return p
}

func TestRunOnce_StoresPostsAndAdvancesCursor(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribedPublisher(t, "aws", model.PublisherTypeTechTeam)
	adapter := &fakeAdapter{posts: []model.ScrapedPost{
		{Title: "<b>ML</b> at scale", URL: "https://aws.example.com/1", Tags: []string{" AI ", "ai"}, Published: t0.Add(-time.Hour)},
		{Title: "Office tour", URL: "https://aws.example.com/2", Published: t0.Add(-2 * time.Hour)},
	}}
	f.registry.Register("aws", adapter)

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Succeeded() != 1 || report.Total() != 2 {
		t.Errorf("report: succeeded=%d total=%d", report.Succeeded(), report.Total())
	}
	if len(adapter.sinces) != 1 || !adapter.sinces[0].Equal(DefaultFloor) {
		t.Errorf("first scrape should start at the floor, got %v", adapter.sinces)
	}

	posts := f.store.Posts()
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	byURL := map[string]*model.Post{}
	for _, p := range posts {
		byURL[p.URL] = p
	}
	ml := byURL["https://aws.example.com/1"]
	if ml.Title != "ML at scale" || ml.Topic != model.TopicDataScience || ml.Labelled {
		t.Errorf("unexpected post: %+v", ml)
	}
	if len(ml.Tags) != 1 || ml.Tags[0] != "AI" {
		t.Errorf("tags not cleaned: %v", ml.Tags)
	}
	if other := byURL["https://aws.example.com/2"]; other.Topic != model.TopicGeneral {
		t.Errorf("uncertain classification should fall back to General, got %s", other.Topic)
	}
	if !strings.Contains(f.logs.String(), "Generalとして保存します") {
		t.Error("expected a warning for the classifier fallback")
	}

	pub := f.publisher(t, "aws")
	if pub.LastScrapedAt == nil || !pub.LastScrapedAt.Equal(t0) {
		t.Errorf("LastScrapedAt = %v, want %v", pub.LastScrapedAt, t0)
	}
}

// classifierFunc は関数をClassifierとして使うアダプタ。
type classifierFunc func(context.Context, classifier.Document) (model.Topic, error)

func (f classifierFunc) Classify(ctx context.Context, doc classifier.Document) (model.Topic, error) {
	return f(ctx, doc)
}

// fallbackCounter は分類フォールバックの記録回数だけを数える。
type fallbackCounter struct {
	metrics.Nop
	n atomic.Int32
}

func (c *fallbackCounter) RecordClassifierFallback() { c.n.Add(1) }

func TestRunOnce_ClassifierFallbackToGeneral(t *testing.T) {
	tests := []struct {
		name    string
		topic   model.Topic
		err     error
		wantLog string
	}{
		{"判定不能", model.TopicGeneral, model.ErrClassificationUncertain, "分類できなかったため"},
		{"分類器の障害", model.TopicDataScience, errors.New("model file corrupted"), "分類器がエラーを返したため"},
		{"未知のトピック", model.Topic("Quantum Cooking"), nil, "未知のトピックを返したため"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			counter := &fallbackCounter{}
			cls := classifierFunc(func(context.Context, classifier.Document) (model.Topic, error) {
				return tt.topic, tt.err
			})
			logger := slog.New(slog.NewJSONHandler(f.logs, nil))
			f.stage = NewStage(f.store, f.registry, cls, security.NewTextSanitizer(), counter, logger, Config{}).
				WithClock(f.clock.Now)

			f.subscribedPublisher(t, "aws", model.PublisherTypeTechTeam)
			f.registry.Register("aws", &fakeAdapter{posts: []model.ScrapedPost{
				{Title: "Anything", URL: "https://aws.example.com/x", Published: t0.Add(-time.Hour)},
			}})

			report, err := f.stage.RunOnce(context.Background())
			if err != nil || report.Failed() != 0 {
				t.Fatalf("RunOnce: err=%v failed=%d", err, report.Failed())
			}
			posts := f.store.Posts()
			if len(posts) != 1 || posts[0].Topic != model.TopicGeneral || posts[0].Labelled {
				t.Fatalf("post should be stored as unlabelled General: %+v", posts)
			}
			if got := counter.n.Load(); got != 1 {
				t.Errorf("fallback recorded %d times, want 1", got)
			}
			logs := f.logs.String()
			if !strings.Contains(logs, `"level":"WARN"`) || !strings.Contains(logs, tt.wantLog) {
				t.Errorf("expected WARN containing %q:\n%s", tt.wantLog, logs)
			}
		})
	}
}

func TestRunOnce_ReingestNeverDuplicatesPosts(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribedPublisher(t, "aws", model.PublisherTypeTechTeam)
	adapter := &fakeAdapter{posts: []model.ScrapedPost{
		{Title: "ML one", URL: "https://aws.example.com/1", Published: t0},
		{Title: "ML one again", URL: "https://aws.example.com/1", Published: t0},
	}}
	f.registry.Register("aws", adapter)

	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Hour)
		if _, err := f.stage.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if n := len(f.store.Posts()); n != 1 {
		t.Errorf("expected 1 post row, got %d", n)
	}
	if !adapter.sinces[1].Equal(t0.Add(time.Hour)) {
		t.Errorf("second scrape since = %v, want previous run time", adapter.sinces[1])
	}
	if got := f.store.Posts()[0].Title; got != "ML one" {
		t.Errorf("existing row must be unchanged, got title %q", got)
	}
}

func TestRunOnce_EmptyResultKeepsCursor(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribedPublisher(t, "aws", model.PublisherTypeTechTeam)
	f.registry.Register("aws", &fakeAdapter{})

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() != 0 {
		t.Errorf("empty result is not a failure: %v", report.Errors())
	}
	if pub := f.publisher(t, "aws"); pub.LastScrapedAt != nil {
		t.Errorf("cursor should not move on empty result, got %v", pub.LastScrapedAt)
	}
}

func TestRunOnce_SkipsIneligiblePublishers(t *testing.T) {
	f := newFixture(t, Config{})
	// 購読なし
	testsupport.MustPublisher(t, f.store, "idle", model.PublisherTypeTechTeam)
	// techteam以外
	f.subscribedPublisher(t, "blogger", model.PublisherTypeIndividual)
	// アダプタ未登録
	f.subscribedPublisher(t, "github", model.PublisherTypeTechTeam)

	idle := &fakeAdapter{}
	blogger := &fakeAdapter{}
	f.registry.Register("idle", idle)
	f.registry.Register("blogger", blogger)

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(idle.sinces) != 0 || len(blogger.sinces) != 0 {
		t.Error("ineligible publishers must not be scraped")
	}
	if len(report.Units) != 1 || !report.Units[0].Skipped || report.Units[0].Unit != "github" {
		t.Errorf("expected github to be reported as skipped, got %+v", report.Units)
	}
	if !strings.Contains(f.logs.String(), "取得アダプタが登録されていない") {
		t.Error("expected a warning for the missing adapter")
	}
}

func TestRunOnce_SourceFailureIsIsolated(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribedPublisher(t, "aws", model.PublisherTypeTechTeam)
	f.subscribedPublisher(t, "netflix", model.PublisherTypeTechTeam)
	f.registry.Register("aws", &fakeAdapter{err: errors.New("connection refused")})
	f.registry.Register("netflix", &fakeAdapter{posts: []model.ScrapedPost{
		{Title: "ML recs", URL: "https://netflix.example.com/1", Published: t0},
	}})

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() != 1 || report.Succeeded() != 1 {
		t.Fatalf("failed=%d succeeded=%d", report.Failed(), report.Succeeded())
	}
	var unitErr *model.UnitError
	if !errors.As(report.Errors()[0], &unitErr) || unitErr.Unit != "aws" || !errors.Is(unitErr, model.ErrSourceUnavailable) {
		t.Errorf("unexpected error: %v", report.Errors()[0])
	}
	if f.publisher(t, "aws").LastScrapedAt != nil {
		t.Error("failed publisher cursor must not move")
	}
	if f.publisher(t, "netflix").LastScrapedAt == nil {
		t.Error("healthy publisher cursor should move")
	}
}

func TestRunOnce_PersistenceFailureRollsBackPublisher(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribedPublisher(t, "aws", model.PublisherTypeTechTeam)
	f.registry.Register("aws", &fakeAdapter{posts: []model.ScrapedPost{
		{Title: "ML 1", URL: "https://aws.example.com/1", Published: t0},
		{Title: "ML 2", URL: "https://aws.example.com/2", Published: t0},
	}})

	var inserts int32
	f.store.SetFault(func(op string) error {
		if op == "Posts.InsertIfAbsent" && atomic.AddInt32(&inserts, 1) == 2 {
			return errors.New("disk full")
		}
		return nil
	})

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() != 1 || !errors.Is(report.Errors()[0], model.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", report.Errors())
	}
	if n := len(f.store.Posts()); n != 0 {
		t.Errorf("partial writes must be rolled back, got %d posts", n)
	}
	if f.publisher(t, "aws").LastScrapedAt != nil {
		t.Error("cursor must not move after rollback")
	}
}

func TestRunOnce_ParallelUnits(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 3, UnitTimeout: time.Second})
	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		f.subscribedPublisher(t, n, model.PublisherTypeTechTeam)
		f.registry.Register(n, &fakeAdapter{posts: []model.ScrapedPost{
			{Title: "ML " + n, URL: "https://" + n + ".example.com/1", Published: t0},
		}})
	}

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded() != len(names) || len(f.store.Posts()) != len(names) {
		t.Errorf("succeeded=%d posts=%d", report.Succeeded(), len(f.store.Posts()))
	}
}

func TestRunOnce_UnitTimeout(t *testing.T) {
	f := newFixture(t, Config{UnitTimeout: 20 * time.Millisecond})
	f.subscribedPublisher(t, "slow", model.PublisherTypeTechTeam)
	f.registry.Register("slow", source.AdapterFunc(func(ctx context.Context, _ time.Time) ([]model.ScrapedPost, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	report, err := f.stage.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() != 1 || !errors.Is(report.Errors()[0], context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", report.Errors())
	}
}

func TestRunOnce_ListFailureIsRunError(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.SetFault(func(op string) error {
		if op == "Publishers.ListScrapeCandidates" {
			return errors.New("connection lost")
		}
		return nil
	})
	f.stage.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))

	if _, err := f.stage.RunOnce(context.Background()); err == nil {
		t.Error("expected run-level error")
	}
}
