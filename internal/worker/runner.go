// Package worker はパイプラインのステージを順に実行するランナーを提供する。
// 各ステージの実装は ingest / notify / delivery サブパッケージにある。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/blogdigest/internal/model"
)

// Stage は1回分のバッチ処理を実行するステージのインターフェース。
type Stage interface {
	RunOnce(ctx context.Context) (model.RunReport, error)
}

// Runner はステージを登録順に逐次実行する。
// 外部スケジューラ（cron）の代わりにプロセス内で定期実行することもできる。
type Runner struct {
	stages []Stage
	logger *slog.Logger
}

// NewRunner はRunnerの新しいインスタンスを生成する。
// stagesは ingest → notify → deliver の順に渡す。
func NewRunner(logger *slog.Logger, stages ...Stage) *Runner {
	return &Runner{
		stages: stages,
		logger: logger,
	}
}

// Start はintervalごとにRunOnceを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("パイプラインランナーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("stages", len(r.stages)),
	)

	// 起動直後に1回実行
	r.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("パイプラインランナーを停止しました")
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("パイプラインの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全ステージを1回ずつ実行し、各ステージのRunReportを返す。
// あるステージが実行自体に失敗しても後続のステージは実行する。
// 作業単位の失敗はRunReportに含まれ、errorにはならない。
func (r *Runner) RunOnce(ctx context.Context) ([]model.RunReport, error) {
	start := time.Now()
	reports := make([]model.RunReport, 0, len(r.stages))
	var errs []error

	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := s.RunOnce(ctx)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", report.Stage, err))
			continue
		}
		for _, uerr := range report.Errors() {
			r.logger.Warn("作業単位が失敗しました",
				slog.String("stage", string(report.Stage)),
				slog.String("error", uerr.Error()),
			)
		}
	}

	r.logger.Info("パイプラインの実行が完了しました",
		slog.Int("stages", len(reports)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return reports, errors.Join(errs...)
}
