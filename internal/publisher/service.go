// Package publisher はパブリッシャー登録・検索のドメインロジックを提供する。
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
)

// Service はパブリッシャー管理のサービス層。
type Service struct {
	repo repository.PublisherRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.PublisherRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register はパブリッシャーを登録する。同名のパブリッシャーが既に存在する場合は既存行を返す。
// 名前は小文字化・トリムして保存する。
func (s *Service) Register(ctx context.Context, name, pubType string) (*model.Publisher, bool, error) {
	name = model.NormalizePublisherName(name)
	if name == "" {
		return nil, false, model.NewInvalidPublisherNameError()
	}
	t, ok := model.ParsePublisherType(pubType)
	if !ok {
		return nil, false, model.NewInvalidPublisherTypeError(pubType)
	}

	pub, created, err := s.repo.Create(ctx, &model.Publisher{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      t,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("パブリッシャーの登録に失敗しました: %w", err)
	}
	return pub, created, nil
}

// List はパブリッシャー一覧を返す。pubTypeが空なら全種別、queryが空でなければ名前の部分一致で絞り込む。
func (s *Service) List(ctx context.Context, pubType, query string) ([]*model.Publisher, error) {
	var t model.PublisherType
	if pubType != "" {
		var ok bool
		if t, ok = model.ParsePublisherType(pubType); !ok {
			return nil, model.NewInvalidPublisherTypeError(pubType)
		}
	}

	pubs, err := s.repo.List(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("パブリッシャー一覧の取得に失敗しました: %w", err)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return pubs, nil
	}
	filtered := make([]*model.Publisher, 0, len(pubs))
	for _, p := range pubs {
		if strings.Contains(p.Name, query) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// FindByName は正規化した名前でパブリッシャーを取得する。
func (s *Service) FindByName(ctx context.Context, name string) (*model.Publisher, error) {
	pub, err := s.repo.FindByName(ctx, model.NormalizePublisherName(name))
	if err != nil {
		return nil, fmt.Errorf("パブリッシャーの取得に失敗しました: %w", err)
	}
	if pub == nil {
		return nil, model.NewPublisherNotFoundError(name)
	}
	return pub, nil
}
