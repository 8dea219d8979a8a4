// Package delivery は配信ステージを提供する。
// 配信可能時刻を過ぎた通知を受信者ごとのダイジェストにまとめて送信し、
// 送信に成功した受信者の通知を配信済みにしてウォーターマークを進める。
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/blogdigest/internal/mail"
	"github.com/hitoshi/blogdigest/internal/metrics"
	"github.com/hitoshi/blogdigest/internal/model"
	"github.com/hitoshi/blogdigest/internal/repository"
)

// Renderer はダイジェストをメールに描画するインターフェース。
type Renderer interface {
	RenderDigest(to string, sections []mail.Section) (mail.Message, error)
}

// Config は配信ステージの設定。
type Config struct {
	// UnitTimeout は1受信者あたりの送信時間の上限。0以下は無制限。
	UnitTimeout time.Duration
}

// Stage は配信ステージ。
type Stage struct {
	store     repository.Store
	renderer  Renderer
	transport mail.Transport
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewStage はStageの新しいインスタンスを生成する。
func NewStage(
	store repository.Store,
	renderer Renderer,
	transport mail.Transport,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Stage {
	return &Stage{
		store:     store,
		renderer:  renderer,
		transport: transport,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func (s *Stage) WithClock(now func() time.Time) *Stage {
	s.now = now
	return s
}

// RunOnce は配信可能な通知を1回配信する。
// 送信に失敗した受信者の通知は未配信のまま残し、次回の実行で再送する。
func (s *Stage) RunOnce(ctx context.Context) (report model.RunReport, runErr error) {
	began := time.Now()
	now := s.now().UTC()
	report = model.RunReport{Stage: model.StageDeliver, StartedAt: now}
	defer func() {
		report.Duration = time.Since(began)
		s.metrics.RecordStageDuration(string(model.StageDeliver), report.Duration)
	}()

	ns, err := s.store.Repos().Notifications.ListMature(ctx, now)
	if err != nil {
		return report, fmt.Errorf("配信可能な通知の取得に失敗しました: %w", err)
	}
	if len(ns) == 0 {
		s.logger.Info("配信可能な通知はありません")
		return report, nil
	}

	digests := BuildDigests(ns)
	s.logger.Info("配信を開始します",
		slog.Int("notifications", len(ns)),
		slog.Int("recipients", len(digests)),
	)

	for _, d := range digests {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Add(s.deliver(ctx, d))
	}

	s.logger.Info("配信が完了しました",
		slog.Int("sent", report.Succeeded()),
		slog.Int("failed", report.Failed()),
		slog.Int("posts", report.Total()),
		slog.Float64("duration_ms", float64(time.Since(began).Milliseconds())),
	)
	return report, nil
}

// deliver は1受信者分のダイジェストを送信し、成功時のみ配信記録を1トランザクションで書き込む。
func (s *Stage) deliver(ctx context.Context, d Digest) model.UnitResult {
	res := model.UnitResult{Unit: d.Email}
	log := s.logger.With(slog.String("email", d.Email))

	msg, err := s.renderer.RenderDigest(d.Email, d.Sections)
	if err != nil {
		log.Error("ダイジェストの描画に失敗しました", slog.String("error", err.Error()))
		s.metrics.RecordDigestFailed()
		res.Err = model.NewUnitError(model.StageDeliver, d.Email, model.ErrDeliveryFailure, err)
		return res
	}

	sendCtx := ctx
	if s.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.UnitTimeout)
		defer cancel()
	}
	if err := s.transport.Send(sendCtx, msg); err != nil {
		log.Error("ダイジェストの送信に失敗しました。次回の実行で再送します",
			slog.Int("notifications", len(d.NotificationIDs)),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordDigestFailed()
		res.Err = model.NewUnitError(model.StageDeliver, d.Email, model.ErrDeliveryFailure, err)
		return res
	}

	sentAt := s.now().UTC()
	var marked int64
	err = s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		marked, err = r.Notifications.MarkDelivered(ctx, d.NotificationIDs, sentAt)
		if err != nil {
			return fmt.Errorf("通知の配信済み更新に失敗しました: %w", err)
		}
		if _, err := r.Subscriptions.AdvanceWatermark(ctx, d.SubscriptionIDs, sentAt); err != nil {
			return fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		// 送信済みのため、次回の実行で同じ内容が再送される
		log.Error("送信後の配信記録に失敗しました", slog.String("error", err.Error()))
		res.Err = model.NewUnitError(model.StageDeliver, d.Email, model.ErrPersistenceFailure, err)
		return res
	}

	s.metrics.RecordDigestSent()
	s.metrics.RecordNotificationsDelivered(int(marked))
	log.Info("ダイジェストを送信しました",
		slog.String("subject", msg.Subject),
		slog.Int("posts", d.ItemCount()),
		slog.Int64("notifications_marked", marked),
		slog.Int("subscriptions_advanced", len(d.SubscriptionIDs)),
	)
	res.Count = d.ItemCount()
	return res
}
