// Package source はパブリッシャーごとの記事取得アダプタ（RSS/HTML）と、
// パブリッシャー名からアダプタを引くレジストリを提供する。
package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

// Adapter は1パブリッシャーから記事を取得するインターフェース。
// sinceより後に公開された記事を返す。順序は問わない。
// ネットワークやパースの失敗時はmodel.ErrSourceUnavailableをラップしたエラーを返す。
type Adapter interface {
	Search(ctx context.Context, since time.Time) ([]model.ScrapedPost, error)
}

// AdapterFunc は関数をAdapterとして扱うためのアダプタ型。
type AdapterFunc func(ctx context.Context, since time.Time) ([]model.ScrapedPost, error)

// Search はAdapterインターフェースを実装する。
func (f AdapterFunc) Search(ctx context.Context, since time.Time) ([]model.ScrapedPost, error) {
	return f(ctx, since)
}

// Registry はパブリッシャー名（正規化済み）からAdapterへの対応を保持する。
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register はパブリッシャー名にAdapterを登録する。同名の登録は置き換える。
func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[model.NormalizePublisherName(name)] = adapter
}

// Resolve はパブリッシャー名に対応するAdapterを返す。
func (r *Registry) Resolve(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[model.NormalizePublisherName(name)]
	return a, ok
}

// Names は登録済みのパブリッシャー名を昇順で返す。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
