package post

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/blogdigest/internal/classifier"
)

// MinTrainingExamples は分類モデルの学習に必要な確定済み記事の最小件数。
const MinTrainingExamples = 1

// TrainResult は分類モデル学習の結果。
type TrainResult struct {
	Examples int
	Trained  bool
}

// TrainClassifier はラベル確定済みの全記事からナイーブベイズ分類器を学習し、modelPathに保存する。
// 確定済み記事がMinTrainingExamples件未満の場合は何もしない。
func (s *Service) TrainClassifier(ctx context.Context, modelPath string) (TrainResult, error) {
	posts, err := s.repo.ListAllLabelled(ctx)
	if err != nil {
		return TrainResult{}, fmt.Errorf("学習データの取得に失敗しました: %w", err)
	}

	res := TrainResult{Examples: len(posts)}
	if len(posts) < MinTrainingExamples {
		s.logger.Info("確定済み記事がないため学習をスキップします",
			slog.Int("examples", len(posts)),
		)
		return res, nil
	}

	examples := make([]classifier.Example, 0, len(posts))
	for _, p := range posts {
		examples = append(examples, classifier.Example{
			Doc:   classifier.Document{Title: p.Title, Tags: p.Tags},
			Topic: p.Topic,
		})
	}

	bayes := classifier.Train(examples, s.now())
	if err := bayes.Save(modelPath); err != nil {
		return res, err
	}
	res.Trained = true

	s.logger.Info("分類モデルを学習しました",
		slog.Int("examples", len(examples)),
		slog.Int("vocabulary", len(bayes.Vocabulary)),
		slog.String("model_path", modelPath),
	)
	return res, nil
}
