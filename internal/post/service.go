// Package post は記事のラベル付け（トピック確定）ワークフローを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/blogdigest/internal/classifier"
	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
)

// DefaultPendingLimit はラベル未確定記事の一覧取得件数のデフォルト値。
const DefaultPendingLimit = 50

// AutoLabelResult は自動ラベル付けの結果。
type AutoLabelResult struct {
	Examined  int
	Labelled  int
	Uncertain int
	Failed    int
}

// Service は記事のラベル付けのサービス層。
// ラベル確定（labelled=true）した記事のみが通知生成の対象となる。
type Service struct {
	repo       repository.PostRepository
	classifier classifier.Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// classifierはAutoLabelでのみ使用し、nilでもよい。
func NewService(repo repository.PostRepository, c classifier.Classifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, classifier: c, logger: logger, now: time.Now}
}

// WithClock は現在時刻の取得関数を差し替える。
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Relabel は記事のトピックを確定する。labelled=trueとし、modified_atを現在時刻に更新する。
// 確定済みの記事を再度確定した場合もmodified_atが進み、ウォーターマークの古い購読者に再通知される。
func (s *Service) Relabel(ctx context.Context, postID, topic string) (*model.Post, error) {
	t, ok := model.ParseTopic(topic)
	if !ok {
		return nil, model.NewInvalidTopicError(topic)
	}
	p, err := s.repo.Relabel(ctx, postID, t, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("記事のラベル付けに失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	s.logger.Info("記事のトピックを確定しました",
		slog.String("post_id", p.ID),
		slog.String("post_url", p.URL),
		slog.String("topic", string(p.Topic)),
	)
	return p, nil
}

// ListPending はラベル未確定の記事を古い順に返す。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*model.Post, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	posts, err := s.repo.ListUnlabelled(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("未確定記事の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// AutoLabel はラベル未確定の記事を分類器で再分類し、確信を持てた結果のみ確定する。
// 分類器が判定できなかった記事は未確定のまま残し、人手でのラベル付けを待つ。
func (s *Service) AutoLabel(ctx context.Context, limit int) (AutoLabelResult, error) {
	var res AutoLabelResult
	if s.classifier == nil {
		return res, errors.New("分類器が設定されていません")
	}

	posts, err := s.ListPending(ctx, limit)
	if err != nil {
		return res, err
	}

	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Examined++

		topic, err := s.classifier.Classify(ctx, classifier.Document{Title: p.Title, Tags: p.Tags})
		if err != nil {
			res.Uncertain++
			s.logger.Debug("分類できなかったため未確定のままにします",
				slog.String("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := s.repo.Relabel(ctx, p.ID, topic, s.now().UTC()); err != nil {
			res.Failed++
			s.logger.Error("自動ラベル付けに失敗しました",
				slog.String("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Labelled++
	}

	s.logger.Info("自動ラベル付けが完了しました",
		slog.Int("examined", res.Examined),
		slog.Int("labelled", res.Labelled),
		slog.Int("uncertain", res.Uncertain),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}
