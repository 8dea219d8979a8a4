package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blogdigest/internal/model"
)

// Clock はテストで操作可能な時計。
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock は指定時刻で止まった時計を生成する。
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now は現在時刻を返す。
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance は時計をdだけ進める。
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set は時計を指定時刻に設定する。
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// MustPublisher はパブリッシャーを登録して返す。
func MustPublisher(t testing.TB, s *MemStore, name string, pubType model.PublisherType) *model.Publisher {
	t.Helper()
	p, _, err := s.Repos().Publishers.Create(context.Background(), &model.Publisher{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      pubType,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Publishers.Create: %v", err)
	}
	return p
}

// MustSubscription は購読を登録して返す。
func MustSubscription(t testing.TB, s *MemStore, email string, pub *model.Publisher, topic model.Topic, freq int, joined time.Time) *model.Subscription {
	t.Helper()
	sub, _, err := s.Repos().Subscriptions.Create(context.Background(), &model.Subscription{
		ID:              uuid.New().String(),
		Email:           email,
		PublisherID:     pub.ID,
		Topic:           topic,
		FrequencyInDays: freq,
		JoinedTime:      joined,
		Active:          true,
	})
	if err != nil {
		t.Fatalf("Subscriptions.Create: %v", err)
	}
	return sub
}

// MustPost は記事を登録して返す。labelledがtrueの場合はmodifiedAtでラベル確定済みとする。
func MustPost(t testing.TB, s *MemStore, pub *model.Publisher, url string, topic model.Topic, labelled bool, modifiedAt time.Time) *model.Post {
	t.Helper()
	p, _, err := s.Repos().Posts.InsertIfAbsent(context.Background(), &model.Post{
		ID:          uuid.New().String(),
		PublisherID: pub.ID,
		URL:         url,
		Title:       "Post " + url,
		PublishedAt: modifiedAt,
		ModifiedAt:  modifiedAt,
		Topic:       topic,
		Labelled:    labelled,
		CreatedAt:   modifiedAt,
	})
	if err != nil {
		t.Fatalf("Posts.InsertIfAbsent: %v", err)
	}
	return p
}
