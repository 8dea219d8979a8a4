// Package testsupport はテスト用のインメモリStoreとフィクスチャ生成ヘルパーを提供する。
package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
)

// MemStore はrepository.Storeのインメモリ実装。
// InTxは状態のコピーに対して実行し、fnが成功した場合のみ置き換えるため、
// エラーやpanicの場合は作業単位の書き込みが全て破棄される。
type MemStore struct {
	mu    sync.Mutex
	st    *memState
	fault func(op string) error
}

var _ repository.Store = (*MemStore)(nil)

type memState struct {
	publishers    map[string]*model.Publisher
	posts         map[string]*model.Post
	subscriptions map[string]*model.Subscription
	notifications []*model.Notification
}

// NewMemStore は空のMemStoreを生成する。
func NewMemStore() *MemStore {
	return &MemStore{st: &memState{
		publishers:    map[string]*model.Publisher{},
		posts:         map[string]*model.Post{},
		subscriptions: map[string]*model.Subscription{},
	}}
}

// SetFault は各操作の直前に呼ばれるフックを設定する。
// 操作名は "Posts.InsertIfAbsent" の形式。エラーを返すとその操作が失敗する。
func (s *MemStore) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Repos はトランザクション外のリポジトリを返す。各操作は個別にロックを取る。
func (s *MemStore) Repos() repository.Repos {
	return s.reposFor(nil)
}

// InTx はfnを状態のコピーに対して実行し、成功時のみ反映する。
// トランザクションは直列化される。
func (s *MemStore) InTx(ctx context.Context, fn func(r repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.st.clone()
	if err := fn(s.reposFor(tx)); err != nil {
		return err
	}
	s.st = tx
	return nil
}

func (s *MemStore) reposFor(tx *memState) repository.Repos {
	h := &memHandle{store: s, tx: tx}
	return repository.Repos{
		Publishers:    &memPublisherRepo{h},
		Posts:         &memPostRepo{h},
		Subscriptions: &memSubscriptionRepo{h},
		Notifications: &memNotificationRepo{h},
	}
}

// memHandle はトランザクション内外の状態アクセスを切り替える。
type memHandle struct {
	store *MemStore
	tx    *memState
}

func (h *memHandle) do(op string, fn func(st *memState) error) error {
	if h.tx != nil {
		if h.store.fault != nil {
			if err := h.store.fault(op); err != nil {
				return err
			}
		}
		return fn(h.tx)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.fault != nil {
		if err := h.store.fault(op); err != nil {
			return err
		}
	}
	return fn(h.store.st)
}

// --- 参照用スナップショット ---

// Publishers は全パブリッシャーのコピーを名前順で返す。
func (s *MemStore) Publishers() []*model.Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Publisher, 0, len(s.st.publishers))
	for _, p := range s.st.publishers {
		out = append(out, copyPublisher(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Posts は全記事のコピーを作成順で返す。
func (s *MemStore) Posts() []*model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Post, 0, len(s.st.posts))
	for _, p := range s.st.posts {
		out = append(out, copyPost(p))
	}
	sortPostsByCreated(out)
	return out
}

// Subscriptions は全購読のコピーを返す。
func (s *MemStore) Subscriptions() []*model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Subscription, 0, len(s.st.subscriptions))
	for _, sub := range s.st.subscriptions {
		out = append(out, copySubscription(sub))
	}
	sortSubscriptions(out)
	return out
}

// Notifications は全通知のコピーを挿入順で返す。
func (s *MemStore) Notifications() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Notification, 0, len(s.st.notifications))
	for _, n := range s.st.notifications {
		out = append(out, copyNotification(n))
	}
	return out
}

// --- Publisher ---

type memPublisherRepo struct{ h *memHandle }

func (r *memPublisherRepo) Create(ctx context.Context, p *model.Publisher) (*model.Publisher, bool, error) {
	var out *model.Publisher
	var created bool
	err := r.h.do("Publishers.Create", func(st *memState) error {
		for _, existing := range st.publishers {
			if existing.Name == p.Name {
				out = copyPublisher(existing)
				return nil
			}
		}
		if _, dup := st.publishers[p.ID]; dup {
			return fmt.Errorf("publisher id already exists: %s", p.ID)
		}
		st.publishers[p.ID] = copyPublisher(p)
		out, created = copyPublisher(p), true
		return nil
	})
	return out, created, err
}

func (r *memPublisherRepo) FindByID(ctx context.Context, id string) (*model.Publisher, error) {
	var out *model.Publisher
	err := r.h.do("Publishers.FindByID", func(st *memState) error {
		if p, ok := st.publishers[id]; ok {
			out = copyPublisher(p)
		}
		return nil
	})
	return out, err
}

func (r *memPublisherRepo) FindByName(ctx context.Context, name string) (*model.Publisher, error) {
	var out *model.Publisher
	err := r.h.do("Publishers.FindByName", func(st *memState) error {
		for _, p := range st.publishers {
			if p.Name == name {
				out = copyPublisher(p)
			}
		}
		return nil
	})
	return out, err
}

func (r *memPublisherRepo) List(ctx context.Context, pubType model.PublisherType) ([]*model.Publisher, error) {
	var out []*model.Publisher
	err := r.h.do("Publishers.List", func(st *memState) error {
		for _, p := range st.publishers {
			if pubType == "" || p.Type == pubType {
				out = append(out, copyPublisher(p))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

func (r *memPublisherRepo) ListScrapeCandidates(ctx context.Context) ([]*model.Publisher, error) {
	var out []*model.Publisher
	err := r.h.do("Publishers.ListScrapeCandidates", func(st *memState) error {
		for _, p := range st.publishers {
			if p.Type != model.PublisherTypeTechTeam {
				continue
			}
			for _, sub := range st.subscriptions {
				if sub.PublisherID == p.ID && sub.Active {
					out = append(out, copyPublisher(p))
					break
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

func (r *memPublisherRepo) UpdateLastScrapedAt(ctx context.Context, id string, at time.Time) error {
	return r.h.do("Publishers.UpdateLastScrapedAt", func(st *memState) error {
		if p, ok := st.publishers[id]; ok {
			t := at
			p.LastScrapedAt = &t
		}
		return nil
	})
}

// --- Post ---

type memPostRepo struct{ h *memHandle }

func (r *memPostRepo) InsertIfAbsent(ctx context.Context, post *model.Post) (*model.Post, bool, error) {
	var out *model.Post
	var inserted bool
	err := r.h.do("Posts.InsertIfAbsent", func(st *memState) error {
		for _, existing := range st.posts {
			if existing.URL == post.URL {
				out = copyPost(existing)
				return nil
			}
		}
		if _, ok := st.publishers[post.PublisherID]; !ok {
			return fmt.Errorf("foreign key violation: publisher %s", post.PublisherID)
		}
		st.posts[post.ID] = copyPost(post)
		out, inserted = copyPost(post), true
		return nil
	})
	return out, inserted, err
}

func (r *memPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	var out *model.Post
	err := r.h.do("Posts.FindByID", func(st *memState) error {
		if p, ok := st.posts[id]; ok {
			out = copyPost(p)
		}
		return nil
	})
	return out, err
}

func (r *memPostRepo) FindByURL(ctx context.Context, url string) (*model.Post, error) {
	var out *model.Post
	err := r.h.do("Posts.FindByURL", func(st *memState) error {
		for _, p := range st.posts {
			if p.URL == url {
				out = copyPost(p)
			}
		}
		return nil
	})
	return out, err
}

func (r *memPostRepo) ListLabelled(ctx context.Context, publisherID string, topic model.Topic) ([]*model.Post, error) {
	var out []*model.Post
	err := r.h.do("Posts.ListLabelled", func(st *memState) error {
		for _, p := range st.posts {
			if p.PublisherID == publisherID && p.Topic == topic && p.Labelled {
				out = append(out, copyPost(p))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
				return out[i].ModifiedAt.Before(out[j].ModifiedAt)
			}
			return out[i].ID < out[j].ID
		})
		return nil
	})
	return out, err
}

func (r *memPostRepo) ListUnlabelled(ctx context.Context, limit int) ([]*model.Post, error) {
	var out []*model.Post
	err := r.h.do("Posts.ListUnlabelled", func(st *memState) error {
		for _, p := range st.posts {
			if !p.Labelled {
				out = append(out, copyPost(p))
			}
		}
		sortPostsByCreated(out)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *memPostRepo) ListAllLabelled(ctx context.Context) ([]*model.Post, error) {
	var out []*model.Post
	err := r.h.do("Posts.ListAllLabelled", func(st *memState) error {
		for _, p := range st.posts {
			if p.Labelled {
				out = append(out, copyPost(p))
			}
		}
		sortPostsByCreated(out)
		return nil
	})
	return out, err
}

func (r *memPostRepo) Relabel(ctx context.Context, id string, topic model.Topic, at time.Time) (*model.Post, error) {
	var out *model.Post
	err := r.h.do("Posts.Relabel", func(st *memState) error {
		p, ok := st.posts[id]
		if !ok {
			return nil
		}
		p.Topic = topic
		p.Labelled = true
		p.ModifiedAt = at
		out = copyPost(p)
		return nil
	})
	return out, err
}

// --- Subscription ---

type memSubscriptionRepo struct{ h *memHandle }

func (r *memSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) (*model.Subscription, bool, error) {
	var out *model.Subscription
	var created bool
	err := r.h.do("Subscriptions.Create", func(st *memState) error {
		for _, existing := range st.subscriptions {
			if existing.Email == sub.Email && existing.PublisherID == sub.PublisherID && existing.Topic == sub.Topic {
				out = copySubscription(existing)
				return nil
			}
		}
		if _, ok := st.publishers[sub.PublisherID]; !ok {
			return fmt.Errorf("foreign key violation: publisher %s", sub.PublisherID)
		}
		st.subscriptions[sub.ID] = copySubscription(sub)
		out, created = copySubscription(sub), true
		return nil
	})
	return out, created, err
}

func (r *memSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	var out *model.Subscription
	err := r.h.do("Subscriptions.FindByID", func(st *memState) error {
		if s, ok := st.subscriptions[id]; ok {
			out = copySubscription(s)
		}
		return nil
	})
	return out, err
}

func (r *memSubscriptionRepo) FindByKey(ctx context.Context, email, publisherID string, topic model.Topic) (*model.Subscription, error) {
	var out *model.Subscription
	err := r.h.do("Subscriptions.FindByKey", func(st *memState) error {
		for _, s := range st.subscriptions {
			if s.Email == email && s.PublisherID == publisherID && s.Topic == topic {
				out = copySubscription(s)
			}
		}
		return nil
	})
	return out, err
}

func (r *memSubscriptionRepo) list(op string, keep func(*model.Subscription) bool) ([]*model.Subscription, error) {
	var out []*model.Subscription
	err := r.h.do(op, func(st *memState) error {
		for _, s := range st.subscriptions {
			if keep(s) {
				out = append(out, copySubscription(s))
			}
		}
		sortSubscriptions(out)
		return nil
	})
	return out, err
}

func (r *memSubscriptionRepo) ListActive(ctx context.Context) ([]*model.Subscription, error) {
	return r.list("Subscriptions.ListActive", func(s *model.Subscription) bool { return s.Active })
}

func (r *memSubscriptionRepo) ListActiveByPublisher(ctx context.Context, publisherID string) ([]*model.Subscription, error) {
	return r.list("Subscriptions.ListActiveByPublisher", func(s *model.Subscription) bool {
		return s.Active && s.PublisherID == publisherID
	})
}

func (r *memSubscriptionRepo) ListByEmail(ctx context.Context, email string) ([]*model.Subscription, error) {
	return r.list("Subscriptions.ListByEmail", func(s *model.Subscription) bool { return s.Email == email })
}

func (r *memSubscriptionRepo) update(op, id string, fn func(s *model.Subscription)) (bool, error) {
	var found bool
	err := r.h.do(op, func(st *memState) error {
		if s, ok := st.subscriptions[id]; ok {
			fn(s)
			found = true
		}
		return nil
	})
	return found, err
}

func (r *memSubscriptionRepo) Deactivate(ctx context.Context, id string) (bool, error) {
	return r.update("Subscriptions.Deactivate", id, func(s *model.Subscription) { s.Active = false })
}

func (r *memSubscriptionRepo) Reactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update("Subscriptions.Reactivate", id, func(s *model.Subscription) {
		s.Active = true
		if s.LastNotifiedAt == nil || s.LastNotifiedAt.Before(at) {
			t := at
			s.LastNotifiedAt = &t
		}
	})
}

func (r *memSubscriptionRepo) UpdateFrequency(ctx context.Context, id string, days int) (bool, error) {
	return r.update("Subscriptions.UpdateFrequency", id, func(s *model.Subscription) { s.FrequencyInDays = days })
}

func (r *memSubscriptionRepo) AdvanceWatermark(ctx context.Context, ids []string, at time.Time) (int64, error) {
	var n int64
	err := r.h.do("Subscriptions.AdvanceWatermark", func(st *memState) error {
		for _, id := range ids {
			s, ok := st.subscriptions[id]
			if !ok {
				continue
			}
			if s.LastNotifiedAt == nil || s.LastNotifiedAt.Before(at) {
				t := at
				s.LastNotifiedAt = &t
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- Notification ---

type memNotificationRepo struct{ h *memHandle }

func (r *memNotificationRepo) InsertIfNoPending(ctx context.Context, n *model.Notification) (bool, error) {
	var inserted bool
	err := r.h.do("Notifications.InsertIfNoPending", func(st *memState) error {
		for _, existing := range st.notifications {
			if !existing.Deleted && existing.Email == n.Email && existing.PostURL == n.PostURL {
				return nil
			}
		}
		st.notifications = append(st.notifications, copyNotification(n))
		inserted = true
		return nil
	})
	return inserted, err
}

// Append は重複チェックを行わずに通知を追加する。生成ジョブの競合を再現するためのテスト用。
func (s *MemStore) Append(n *model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.notifications = append(s.st.notifications, copyNotification(n))
}

func (r *memNotificationRepo) ListMature(ctx context.Context, now time.Time) ([]*model.Notification, error) {
	var out []*model.Notification
	err := r.h.do("Notifications.ListMature", func(st *memState) error {
		for _, n := range st.notifications {
			if n.Deleted || n.MaturityDate.After(now) {
				continue
			}
			if sub, ok := st.subscriptions[n.SubscriptionID]; ok && !sub.Active {
				continue
			}
			out = append(out, copyNotification(n))
		}
		return nil
	})
	return out, err
}

func (r *memNotificationRepo) ListByEmail(ctx context.Context, email string) ([]*model.Notification, error) {
	var out []*model.Notification
	err := r.h.do("Notifications.ListByEmail", func(st *memState) error {
		for _, n := range st.notifications {
			if n.Email == email {
				out = append(out, copyNotification(n))
			}
		}
		return nil
	})
	return out, err
}

func (r *memNotificationRepo) MarkDelivered(ctx context.Context, ids []string, at time.Time) (int64, error) {
	var count int64
	err := r.h.do("Notifications.MarkDelivered", func(st *memState) error {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		for _, n := range st.notifications {
			if want[n.ID] && !n.Deleted {
				n.Deleted = true
				t := at
				n.DeliveredAt = &t
				count++
			}
		}
		return nil
	})
	return count, err
}

// --- コピーとソート ---

func (st *memState) clone() *memState {
	c := &memState{
		publishers:    make(map[string]*model.Publisher, len(st.publishers)),
		posts:         make(map[string]*model.Post, len(st.posts)),
		subscriptions: make(map[string]*model.Subscription, len(st.subscriptions)),
		notifications: make([]*model.Notification, 0, len(st.notifications)),
	}
	for k, v := range st.publishers {
		c.publishers[k] = copyPublisher(v)
	}
	for k, v := range st.posts {
		c.posts[k] = copyPost(v)
	}
	for k, v := range st.subscriptions {
		c.subscriptions[k] = copySubscription(v)
	}
	for _, n := range st.notifications {
		c.notifications = append(c.notifications, copyNotification(n))
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyPublisher(p *model.Publisher) *model.Publisher {
	c := *p
	c.LastScrapedAt = copyTime(p.LastScrapedAt)
	return &c
}

func copyPost(p *model.Post) *model.Post {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

func copySubscription(s *model.Subscription) *model.Subscription {
	c := *s
	c.LastNotifiedAt = copyTime(s.LastNotifiedAt)
	return &c
}

func copyNotification(n *model.Notification) *model.Notification {
	c := *n
	c.DeliveredAt = copyTime(n.DeliveredAt)
	return &c
}

func sortPostsByCreated(ps []*model.Post) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func sortSubscriptions(subs []*model.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Email != subs[j].Email {
			return subs[i].Email < subs[j].Email
		}
		if !subs[i].JoinedTime.Equal(subs[j].JoinedTime) {
			return subs[i].JoinedTime.Before(subs[j].JoinedTime)
		}
		return subs[i].ID < subs[j].ID
	})
}
