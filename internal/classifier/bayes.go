package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

const bayesModelVersion = 1

// Example は学習用の確定済み記事。
type Example struct {
	Doc   Document
	Topic model.Topic
}

// BayesClassifier は多項ナイーブベイズによる分類器。
// 確定済み（labelled）記事から学習し、JSONとして保存・読み込みできる。
type BayesClassifier struct {
	Version    int                            `json:"version"`
	TrainedAt  time.Time                      `json:"trained_at"`
	Documents  int                            `json:"documents"`
	ClassDocs  map[model.Topic]int            `json:"class_docs"`
	WordCounts map[model.Topic]map[string]int `json:"word_counts"`
	ClassWords map[model.Topic]int            `json:"class_words"`
	Vocabulary map[string]bool                `json:"vocabulary"`

	fallback Classifier
}

var _ Classifier = (*BayesClassifier)(nil)

// exampleText は学習・推論で共通に用いるテキストを組み立てる。
// タイトルは2回含めて重みを持たせる。抜粋は先頭のみ使う。
func exampleText(doc Document) string {
	snippet := doc.Snippet
	if r := []rune(snippet); len(r) > 200 {
		snippet = string(r[:200])
	}
	return strings.Join([]string{doc.Title, doc.Title, strings.Join(doc.Tags, " "), snippet}, " ")
}

// Train は学習データから分類器を構築する。
func Train(examples []Example, now time.Time) *BayesClassifier {
	b := &BayesClassifier{
		Version:    bayesModelVersion,
		TrainedAt:  now.UTC(),
		ClassDocs:  make(map[model.Topic]int),
		WordCounts: make(map[model.Topic]map[string]int),
		ClassWords: make(map[model.Topic]int),
		Vocabulary: make(map[string]bool),
	}
	for _, ex := range examples {
		tokens := Tokenize(exampleText(ex.Doc))
		if len(tokens) == 0 {
			continue
		}
		b.Documents++
		b.ClassDocs[ex.Topic]++
		counts := b.WordCounts[ex.Topic]
		if counts == nil {
			counts = make(map[string]int)
			b.WordCounts[ex.Topic] = counts
		}
		for _, tok := range tokens {
			counts[tok]++
			b.ClassWords[ex.Topic]++
			b.Vocabulary[tok] = true
		}
	}
	return b
}

// WithFallback は語彙が重ならない場合に委譲する分類器を設定する。
func (b *BayesClassifier) WithFallback(c Classifier) *BayesClassifier {
	b.fallback = c
	return b
}

// Classify は事後確率が最大のトピックを返す。
// 学習語彙と1語も重ならない場合はフォールバック分類器に委譲する。
func (b *BayesClassifier) Classify(ctx context.Context, doc Document) (model.Topic, error) {
	var known []string
	for _, tok := range Tokenize(exampleText(doc)) {
		if b.Vocabulary[tok] {
			known = append(known, tok)
		}
	}
	if len(known) == 0 || b.Documents == 0 {
		if b.fallback != nil {
			return b.fallback.Classify(ctx, doc)
		}
		return model.TopicGeneral, model.ErrClassificationUncertain
	}

	topics := make([]model.Topic, 0, len(b.ClassDocs))
	for t := range b.ClassDocs {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })

	vocab := float64(len(b.Vocabulary))
	best, bestScore := model.TopicGeneral, math.Inf(-1)
	for _, t := range topics {
		score := math.Log(float64(b.ClassDocs[t]) / float64(b.Documents))
		denom := float64(b.ClassWords[t]) + vocab
		for _, tok := range known {
			score += math.Log((float64(b.WordCounts[t][tok]) + 1) / denom)
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, nil
}

// Save はモデルをJSONとしてpathに書き出す。親ディレクトリは必要に応じて作成する。
func (b *BayesClassifier) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("モデル保存先ディレクトリの作成に失敗: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("モデルのシリアライズに失敗: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("モデルの書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("モデルの書き込みに失敗: %w", err)
	}
	return nil
}

// LoadBayes はSaveで書き出したモデルを読み込む。
// ファイルが存在しない場合はfs.ErrNotExistをラップしたエラーを返す。
func LoadBayes(path string) (*BayesClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("モデルの読み込みに失敗: %w", err)
	}
	var b BayesClassifier
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("モデルのパースに失敗: %w", err)
	}
	if b.Version != bayesModelVersion {
		return nil, fmt.Errorf("未対応のモデルバージョンです: %d", b.Version)
	}
	if b.Vocabulary == nil {
		b.Vocabulary = make(map[string]bool)
	}
	return &b, nil
}
