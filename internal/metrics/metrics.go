// Package metrics はパイプラインのPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 各ステージから利用する。
type MetricsCollector interface {
	RecordPublisherScraped()
	RecordPublisherFailed(kind string)
	RecordPostsIngested(count int)
	RecordClassifierFallback()
	RecordNotificationsCreated(count int)
	RecordDigestSent()
	RecordDigestFailed()
	RecordNotificationsDelivered(count int)
	RecordStageDuration(stage string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	publishersScraped      prometheus.Counter
	publishersFailed       *prometheus.CounterVec
	postsIngested          prometheus.Counter
	classifierFallbacks    prometheus.Counter
	notificationsCreated   prometheus.Counter
	digestsSent            prometheus.Counter
	digestsFailed          prometheus.Counter
	notificationsDelivered prometheus.Counter
	stageDuration          *prometheus.HistogramVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publishersScraped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_publishers_scraped_total",
			Help: "取り込みに成功したパブリッシャーの合計数",
		}),
		publishersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogdigest_publishers_failed_total",
			Help: "取り込みに失敗したパブリッシャーの合計数（分類別）",
		}, []string{"kind"}),
		postsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_posts_ingested_total",
			Help: "新規に保存された記事の合計数",
		}),
		classifierFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_classifier_fallbacks_total",
			Help: "分類できずGeneralにフォールバックした記事の合計数",
		}),
		notificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_notifications_created_total",
			Help: "生成された通知の合計数",
		}),
		digestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_digests_sent_total",
			Help: "送信に成功したダイジェストメールの合計数",
		}),
		digestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_digests_failed_total",
			Help: "送信に失敗したダイジェストメールの合計数",
		}),
		notificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogdigest_notifications_delivered_total",
			Help: "配信済みにした通知の合計数",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blogdigest_stage_duration_seconds",
			Help:    "ステージ1回分の実行時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.publishersScraped,
		c.publishersFailed,
		c.postsIngested,
		c.classifierFallbacks,
		c.notificationsCreated,
		c.digestsSent,
		c.digestsFailed,
		c.notificationsDelivered,
		c.stageDuration,
	)

	return c
}

// RecordPublisherScraped はパブリッシャーの取り込み成功を記録する。
func (c *Collector) RecordPublisherScraped() {
	c.publishersScraped.Inc()
}

// RecordPublisherFailed はパブリッシャーの取り込み失敗を記録する。
func (c *Collector) RecordPublisherFailed(kind string) {
	c.publishersFailed.WithLabelValues(kind).Inc()
}

// RecordPostsIngested は新規保存された記事数を記録する。
func (c *Collector) RecordPostsIngested(count int) {
	c.postsIngested.Add(float64(count))
}

// RecordClassifierFallback は分類のフォールバックを記録する。
func (c *Collector) RecordClassifierFallback() {
	c.classifierFallbacks.Inc()
}

// RecordNotificationsCreated は生成された通知数を記録する。
func (c *Collector) RecordNotificationsCreated(count int) {
	c.notificationsCreated.Add(float64(count))
}

// RecordDigestSent はダイジェスト送信成功を記録する。
func (c *Collector) RecordDigestSent() {
	c.digestsSent.Inc()
}

// RecordDigestFailed はダイジェスト送信失敗を記録する。
func (c *Collector) RecordDigestFailed() {
	c.digestsFailed.Inc()
}

// RecordNotificationsDelivered は配信済みにした通知数を記録する。
func (c *Collector) RecordNotificationsDelivered(count int) {
	c.notificationsDelivered.Add(float64(count))
}

// RecordStageDuration はステージの実行時間を記録する。
func (c *Collector) RecordStageDuration(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。単発のCLI実行で使用する。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordPublisherScraped()                   {}
func (Nop) RecordPublisherFailed(string)              {}
func (Nop) RecordPostsIngested(int)                   {}
func (Nop) RecordClassifierFallback()                 {}
func (Nop) RecordNotificationsCreated(int)            {}
func (Nop) RecordDigestSent()                         {}
func (Nop) RecordDigestFailed()                       {}
func (Nop) RecordNotificationsDelivered(int)          {}
func (Nop) RecordStageDuration(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
