// Package subscription は購読（受信者 × パブリッシャー × トピック）管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
)

// SubscribeRequest は購読登録の入力。
type SubscribeRequest struct {
	Email           string
	Publisher       string
	Topic           string
	FrequencyInDays int
}

// PublisherEntry は受信者の購読一覧における1パブリッシャー分の情報。
type PublisherEntry struct {
	SubscriptionID  string
	Publisher       string
	FrequencyInDays int
	Active          bool
	LastNotifiedAt  *time.Time
}

// TopicGroup はトピックごとにまとめた購読一覧。
type TopicGroup struct {
	Topic      model.Topic
	Publishers []PublisherEntry
}

// Service は購読管理のサービス層。
// 購読登録、解除、再開、通知間隔の変更、受信者ごとの一覧取得を提供する。
type Service struct {
	subRepo repository.SubscriptionRepository
	pubRepo repository.PublisherRepository
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(subRepo repository.SubscriptionRepository, pubRepo repository.PublisherRepository) *Service {
	return &Service{subRepo: subRepo, pubRepo: pubRepo, now: time.Now}
}

// WithClock は現在時刻の取得関数を差し替える。
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Subscribe は購読を登録する。
// 同じ(email, パブリッシャー, トピック)の購読がアクティブならそのまま返し、
// 非アクティブなら再開する。
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*model.Subscription, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	topic, ok := model.ParseTopic(req.Topic)
	if !ok {
		return nil, model.NewInvalidTopicError(req.Topic)
	}
	if req.FrequencyInDays < 0 {
		return nil, model.NewInvalidFrequencyError(req.FrequencyInDays)
	}
	pub, err := s.findPublisher(ctx, req.Publisher)
	if err != nil {
		return nil, err
	}

	sub, created, err := s.subRepo.Create(ctx, &model.Subscription{
		ID:              uuid.New().String(),
		Email:           email,
		PublisherID:     pub.ID,
		Topic:           topic,
		FrequencyInDays: req.FrequencyInDays,
		JoinedTime:      s.now().UTC(),
		Active:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("購読の登録に失敗しました: %w", err)
	}
	if created || sub.Active {
		return sub, nil
	}
	return s.reactivate(ctx, sub)
}

// Unsubscribe は購読を解除する（論理削除）。履歴は保持され、Resumeで再開できる。
func (s *Service) Unsubscribe(ctx context.Context, email, publisher, topic string) error {
	sub, err := s.find(ctx, email, publisher, topic)
	if err != nil {
		return err
	}
	if _, err := s.subRepo.Deactivate(ctx, sub.ID); err != nil {
		return fmt.Errorf("購読の解除に失敗しました: %w", err)
	}
	return nil
}

// Resume は解除済みの購読を再開する。ウォーターマークは現在時刻まで進め、
// 解除中に確定した記事は通知しない。アクティブな購読はそのまま返す。
func (s *Service) Resume(ctx context.Context, email, publisher, topic string) (*model.Subscription, error) {
	sub, err := s.find(ctx, email, publisher, topic)
	if err != nil {
		return nil, err
	}
	if sub.Active {
		return sub, nil
	}
	return s.reactivate(ctx, sub)
}

// UpdateFrequency は購読の通知間隔（日数）を変更する。
func (s *Service) UpdateFrequency(ctx context.Context, email, publisher, topic string, days int) (*model.Subscription, error) {
	if days < 0 {
		return nil, model.NewInvalidFrequencyError(days)
	}
	sub, err := s.find(ctx, email, publisher, topic)
	if err != nil {
		return nil, err
	}
	if _, err := s.subRepo.UpdateFrequency(ctx, sub.ID, days); err != nil {
		return nil, fmt.Errorf("通知間隔の更新に失敗しました: %w", err)
	}
	sub.FrequencyInDays = days
	return sub, nil
}

// ListByEmail は受信者の購読をトピックごとにまとめて返す。
// トピックは定義順、パブリッシャーは名前順。
func (s *Service) ListByEmail(ctx context.Context, email string) ([]TopicGroup, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	subs, err := s.subRepo.ListByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}

	names := make(map[string]string)
	byTopic := make(map[model.Topic][]PublisherEntry)
	for _, sub := range subs {
		name, ok := names[sub.PublisherID]
		if !ok {
			pub, err := s.pubRepo.FindByID(ctx, sub.PublisherID)
			if err != nil {
				return nil, fmt.Errorf("パブリッシャーの取得に失敗しました: %w", err)
			}
			if pub != nil {
				name = pub.Name
			}
			names[sub.PublisherID] = name
		}
		byTopic[sub.Topic] = append(byTopic[sub.Topic], PublisherEntry{
			SubscriptionID:  sub.ID,
			Publisher:       name,
			FrequencyInDays: sub.FrequencyInDays,
			Active:          sub.Active,
			LastNotifiedAt:  sub.LastNotifiedAt,
		})
	}

	var groups []TopicGroup
	for _, t := range model.Topics() {
		entries, ok := byTopic[t]
		if !ok {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Publisher < entries[j].Publisher })
		groups = append(groups, TopicGroup{Topic: t, Publishers: entries})
	}
	return groups, nil
}

func (s *Service) reactivate(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	if _, err := s.subRepo.Reactivate(ctx, sub.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("購読の再開に失敗しました: %w", err)
	}
	updated, err := s.subRepo.FindByID(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("購読の再取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("購読の再取得に失敗しました: %s", sub.ID)
	}
	return updated, nil
}

func (s *Service) find(ctx context.Context, email, publisher, topic string) (*model.Subscription, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	t, ok := model.ParseTopic(topic)
	if !ok {
		return nil, model.NewInvalidTopicError(topic)
	}
	pub, err := s.findPublisher(ctx, publisher)
	if err != nil {
		return nil, err
	}
	sub, err := s.subRepo.FindByKey(ctx, email, pub.ID, t)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError(email, pub.Name, t)
	}
	return sub, nil
}

func (s *Service) findPublisher(ctx context.Context, name string) (*model.Publisher, error) {
	pub, err := s.pubRepo.FindByName(ctx, model.NormalizePublisherName(name))
	if err != nil {
		return nil, fmt.Errorf("パブリッシャーの取得に失敗しました: %w", err)
	}
	if pub == nil {
		return nil, model.NewPublisherNotFoundError(name)
	}
	return pub, nil
}

// normalizeEmail はメールアドレスを検証し、小文字化して返す。
// 表示名付きの形式（"Name <a@example.com>"）は受け付けない。
func normalizeEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidEmailError(raw)
	}
	return email, nil
}
