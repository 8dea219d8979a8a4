package classifier

import (
	"context"
	"strings"

	"github.com/hitoshi/blogdigest/internal/model"
)

const (
	titleWeight = 0.7
	bodyWeight  = 0.3
	// minKeywordScore を下回る類似度はシグナルなしとみなす。
	minKeywordScore = 0.05
)

// topicDescriptors は各トピックを特徴付ける語彙。
var topicDescriptors = map[model.Topic]string{
	model.TopicSoftwareEngineering: "software engineering frontend backend system design architecture devops " +
		"storage database distributed systems microservices kubernetes cloud infrastructure api " +
		"performance scalability reliability latency cache compiler programming language rust go java " +
		"serverless networking security observability migration platform deployment",
	model.TopicSoftwareTesting: "software testing manual automation performance load testing test tests qa " +
		"quality assurance regression unit integration end-to-end e2e flaky coverage fuzzing chaos " +
		"selenium playwright benchmark verification",
	model.TopicDataAnalytics: "analytics business intelligence data visualization dashboard reporting metrics " +
		"sql warehouse bi insights experimentation ab experiment kpi etl pipeline looker tableau",
	model.TopicDataScience: "data science machine learning ml ai artificial intelligence predictive modeling " +
		"deep learning neural network model training inference llm genai embeddings recommendation " +
		"nlp computer vision transformer gpu",
	model.TopicProductManagement: "product management product design user experience ux product strategy " +
		"roadmap customer research discovery growth pricing launch stakeholder prioritization onboarding",
}

// KeywordClassifier はトピックごとの語彙ベクトルとのコサイン類似度で分類する。
// タイトルを0.7、タグと抜粋を0.3の重みで合成する。
type KeywordClassifier struct {
	topics  []model.Topic
	vectors map[model.Topic]vector
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier はKeywordClassifierを生成する。
func NewKeywordClassifier() *KeywordClassifier {
	c := &KeywordClassifier{vectors: make(map[model.Topic]vector, len(topicDescriptors))}
	for _, t := range model.Topics() {
		desc, ok := topicDescriptors[t]
		if !ok {
			continue
		}
		c.topics = append(c.topics, t)
		c.vectors[t] = newVector(Tokenize(desc))
	}
	return c
}

// Classify は最も類似度の高いトピックを返す。
func (c *KeywordClassifier) Classify(_ context.Context, doc Document) (model.Topic, error) {
	query := weightedVector(doc)
	if len(query) == 0 {
		return model.TopicGeneral, model.ErrClassificationUncertain
	}

	best, bestScore := model.TopicGeneral, 0.0
	for _, t := range c.topics {
		if s := cosine(query, c.vectors[t]); s > bestScore {
			best, bestScore = t, s
		}
	}
	if bestScore < minKeywordScore {
		return model.TopicGeneral, model.ErrClassificationUncertain
	}
	return best, nil
}

// weightedVector はタイトルと本文側（タグ+抜粋）をそれぞれ正規化し、重み付きで合成する。
func weightedVector(doc Document) vector {
	title := newVector(Tokenize(doc.Title))
	body := newVector(Tokenize(strings.Join(doc.Tags, " ") + " " + doc.Snippet))

	out := make(vector, len(title)+len(body))
	if n := title.norm(); n > 0 {
		for k, x := range title {
			out[k] += titleWeight * x / n
		}
	}
	if n := body.norm(); n > 0 {
		for k, x := range body {
			out[k] += bodyWeight * x / n
		}
	}
	return out
}
