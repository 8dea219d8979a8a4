// Package classifier は記事のタイトル・タグ・本文抜粋からトピックを判定する。
// キーワード類似度による分類器と、確定済み記事から学習するナイーブベイズ分類器を持つ。
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/hitoshi/blogdigest/internal/model"
)

// Document は分類対象の記事テキスト。
type Document struct {
	Title   string
	Tags    []string
	Snippet string
}

// Classifier はトピック分類のインターフェース。
// 判定できない場合はmodel.TopicGeneralとmodel.ErrClassificationUncertainを返す。
type Classifier interface {
	Classify(ctx context.Context, doc Document) (model.Topic, error)
}

// 分類器の種別。
const (
	KindKeyword = "keyword"
	KindModel   = "model"
)

// New は設定に応じた分類器を生成する。
// modelを指定した場合でも学習済みモデルが存在しなければキーワード分類器のみで動作する。
func New(kind, modelPath string, logger *slog.Logger) (Classifier, error) {
	keyword := NewKeywordClassifier()

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindKeyword:
		return keyword, nil
	case KindModel:
		bayes, err := LoadBayes(modelPath)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("学習済みモデルが見つからないため、キーワード分類器を使用します",
				slog.String("model_path", modelPath),
			)
			return keyword, nil
		}
		if err != nil {
			return nil, err
		}
		logger.Info("学習済みモデルを読み込みました",
			slog.String("model_path", modelPath),
			slog.Int("documents", bayes.Documents),
		)
		return bayes.WithFallback(keyword), nil
	default:
		return nil, fmt.Errorf("不明な分類器です: %s", kind)
	}
}
