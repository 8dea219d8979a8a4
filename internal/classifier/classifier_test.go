package classifier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("The Café's  Databases, and Caches! (v2)")
	want := []string{"cafe", "database", "cache", "v2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize() = %v, want %v", got, want)
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		name string
		doc  Document
		want model.Topic
	}{
		{"ソフトウェア工学", Document{Title: "Scaling Kafka microservices on Kubernetes"}, model.TopicSoftwareEngineering},
		{"データサイエンス", Document{Title: "Building a machine learning model for recommendations"}, model.TopicDataScience},
		{"テスト", Document{Title: "Load testing checkout with automation"}, model.TopicSoftwareTesting},
		{"分析", Document{Title: "Building a BI dashboard for business analytics"}, model.TopicDataAnalytics},
		{"プロダクト", Document{Title: "Our product roadmap and UX research"}, model.TopicProductManagement},
		{
			"タイトルを重視",
			Document{Title: "Kubernetes microservices database architecture", Tags: []string{"AI"}},
			model.TopicSoftwareEngineering,
		},
		{"タグのみ", Document{Title: "Year in review", Tags: []string{"Deep Learning", "LLM"}}, model.TopicDataScience},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(context.Background(), tt.doc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKeywordClassifier_Uncertain(t *testing.T) {
	c := NewKeywordClassifier()

	for _, doc := range []Document{{}, {Title: "Company picnic photos"}} {
		got, err := c.Classify(context.Background(), doc)
		if !errors.Is(err, model.ErrClassificationUncertain) {
			t.Errorf("Classify(%+v) error = %v, want ErrClassificationUncertain", doc, err)
		}
		if got != model.TopicGeneral {
			t.Errorf("Classify(%+v) = %s, want General", doc, got)
		}
	}
}

func trainingExamples() []Example {
	return []Example{
		{Doc: Document{Title: "Migrating our payment ledger to Postgres"}, Topic: model.TopicSoftwareEngineering},
		{Doc: Document{Title: "Postgres vacuum tuning at scale"}, Topic: model.TopicSoftwareEngineering},
		{Doc: Document{Title: "Forecasting demand with gradient boosting", Tags: []string{"forecasting"}}, Topic: model.TopicDataScience},
		{Doc: Document{Title: "Demand forecasting models in production"}, Topic: model.TopicDataScience},
		{Doc: Document{}, Topic: model.TopicGeneral},
	}
}

func TestBayesClassifier_Train(t *testing.T) {
	b := Train(trainingExamples(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if b.Documents != 4 {
		t.Errorf("Documents = %d, want 4 (empty example skipped)", b.Documents)
	}

	got, err := b.Classify(context.Background(), Document{Title: "Postgres ledger sharding"})
	if err != nil || got != model.TopicSoftwareEngineering {
		t.Errorf("Classify() = %s, %v; want Software Engineering", got, err)
	}
	got, err = b.Classify(context.Background(), Document{Title: "Better demand forecasting"})
	if err != nil || got != model.TopicDataScience {
		t.Errorf("Classify() = %s, %v; want Data Science", got, err)
	}
}

type stubClassifier struct {
	topic model.Topic
	calls int
}

func (s *stubClassifier) Classify(context.Context, Document) (model.Topic, error) {
	s.calls++
	return s.topic, nil
}

func TestBayesClassifier_FallbackOnUnknownVocabulary(t *testing.T) {
	stub := &stubClassifier{topic: model.TopicProductManagement}
	b := Train(trainingExamples(), time.Now()).WithFallback(stub)

	got, err := b.Classify(context.Background(), Document{Title: "Roadmap planning offsite"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != model.TopicProductManagement || stub.calls != 1 {
		t.Errorf("expected fallback to be used, got %s (calls=%d)", got, stub.calls)
	}

	plain := Train(trainingExamples(), time.Now())
	if _, err := plain.Classify(context.Background(), Document{Title: "Roadmap planning offsite"}); !errors.Is(err, model.ErrClassificationUncertain) {
		t.Errorf("expected ErrClassificationUncertain without fallback, got %v", err)
	}
}

func TestBayesClassifier_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "classifier.json")
	b := Train(trainingExamples(), time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err := b.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := LoadBayes(path)
	if err != nil {
		t.Fatalf("LoadBayes() error: %v", err)
	}
	if loaded.Documents != b.Documents || len(loaded.Vocabulary) != len(b.Vocabulary) {
		t.Errorf("loaded model differs: docs=%d vocab=%d", loaded.Documents, len(loaded.Vocabulary))
	}
	got, err := loaded.Classify(context.Background(), Document{Title: "Postgres ledger"})
	if err != nil || got != model.TopicSoftwareEngineering {
		t.Errorf("loaded Classify() = %s, %v", got, err)
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	c, err := New("keyword", "", logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*KeywordClassifier); !ok {
		t.Errorf("New(keyword) = %T", c)
	}

	c, err = New("model", filepath.Join(t.TempDir(), "missing.json"), logger)
	if err != nil {
		t.Fatalf("missing model should fall back, got %v", err)
	}
	if _, ok := c.(*KeywordClassifier); !ok {
		t.Errorf("New(model, missing) = %T, want keyword fallback", c)
	}
	if !strings.Contains(buf.String(), "キーワード分類器") {
		t.Errorf("expected fallback warning in log, got %s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "classifier.json")
	if err := Train(trainingExamples(), time.Now()).Save(path); err != nil {
		t.Fatal(err)
	}
	c, err = New("MODEL", path, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b, ok := c.(*BayesClassifier); !ok || b.fallback == nil {
		t.Errorf("New(model) = %T, want BayesClassifier with fallback", c)
	}

	if _, err := New("embedding", "", logger); err == nil {
		t.Error("expected error for unknown classifier kind")
	}
}
