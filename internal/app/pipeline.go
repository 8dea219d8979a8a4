package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hitoshi/blogdigest/internal/classifier"
	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/security"
	"github.com/hitoshi/blogdigest/internal/worker"
	"github.com/hitoshi/blogdigest/internal/worker/delivery"
	"github.com/hitoshi/blogdigest/internal/worker/ingest"
	"github.com/hitoshi/blogdigest/internal/worker/notify"
)

// pipeline は設定から組み立てたパイプラインの各ステージ。
type pipeline struct {
	ingest  *ingest.Stage
	notify  *notify.Generator
	deliver *delivery.Stage
}

// buildPipeline は永続化層、ソース定義、分類器、メール送信を組み立ててステージを生成する。
func (c *commandContext) buildPipeline(ctx context.Context) (*pipeline, error) {
	b, err := c.ensureBackend(ctx)
	if err != nil {
		return nil, err
	}
	adapters, err := c.adapters()
	if err != nil {
		return nil, err
	}
	cls, err := classifier.New(c.cfg.Classifier, c.cfg.ModelPath, c.logger)
	if err != nil {
		return nil, err
	}
	renderer, err := c.renderer()
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		ingest: ingest.NewStage(b.Store, adapters, cls, security.NewTextSanitizer(), c.metrics, c.logger, ingest.Config{
			Floor:         c.cfg.ScrapeFloor,
			UnitTimeout:   c.cfg.UnitTimeout,
			MaxConcurrent: c.cfg.IngestMaxConcurrent,
		}).WithClock(c.opts.Now),
		notify: notify.NewGenerator(b.Store, c.metrics, c.logger).WithClock(c.opts.Now),
		deliver: delivery.NewStage(b.Store, renderer, c.transport(), c.metrics, c.logger, delivery.Config{
			UnitTimeout: c.cfg.UnitTimeout,
		}).WithClock(c.opts.Now),
	}
	return p, nil
}

// stages は ingest → notify → deliver の順にステージを返す。
func (p *pipeline) stages() []worker.Stage {
	return []worker.Stage{p.ingest, p.notify, p.deliver}
}

// printReport はステージの実行結果を1行で出力する。
func printReport(w io.Writer, r model.RunReport) {
	skipped := 0
	for _, u := range r.Units {
		if u.Skipped {
			skipped++
		}
	}
	fmt.Fprintf(w, "%s: succeeded=%d failed=%d skipped=%d count=%d duration=%s\n",
		r.Stage, r.Succeeded(), r.Failed(), skipped, r.Total(), r.Duration.Round(time.Millisecond))
	for _, err := range r.Errors() {
		fmt.Fprintf(w, "  error: %v\n", err)
	}
}
