// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordRegistration()
	RecordPostCreated()
	RecordPostDeleted()
	RecordLikeToggled(liked bool)
	RecordImageFetch(outcome string)
	RecordImageFetchLatency(duration time.Duration)
	RecordSessionExpired()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	registrations     prometheus.Counter
	postsCreated      prometheus.Counter
	postsDeleted      prometheus.Counter
	likesToggled      *prometheus.CounterVec
	imageFetches      *prometheus.CounterVec
	imageFetchLatency prometheus.Histogram
	sessionsExpired   prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_login_total",
			Help: "ログイン試行の合計数（結果別）",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_registration_total",
			Help: "ユーザー登録の合計数",
		}),
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_posts_created_total",
			Help: "作成された記事の合計数",
		}),
		postsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_posts_deleted_total",
			Help: "削除された記事の合計数",
		}),
		likesToggled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_likes_toggled_total",
			Help: "いいね切り替えの合計数（状態別）",
		}, []string{"state"}),
		imageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_image_fetch_total",
			Help: "URLからの画像取得の合計数（結果別）",
		}, []string{"outcome"}),
		imageFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogman_image_fetch_latency_seconds",
			Help:    "URLからの画像取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_sessions_expired_total",
			Help: "期限切れで拒否されたセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.postsCreated,
		c.postsDeleted,
		c.likesToggled,
		c.imageFetches,
		c.imageFetchLatency,
		c.sessionsExpired,
	)

	return c
}

// RecordLogin はログイン試行をoutcome（success / failure）別に記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordPostCreated は記事作成を記録する。
func (c *Collector) RecordPostCreated() {
	c.postsCreated.Inc()
}

// RecordPostDeleted は記事削除を記録する。
func (c *Collector) RecordPostDeleted() {
	c.postsDeleted.Inc()
}

// RecordLikeToggled はいいね切り替えを状態（liked / unliked）別に記録する。
func (c *Collector) RecordLikeToggled(liked bool) {
	state := "unliked"
	if liked {
		state = "liked"
	}
	c.likesToggled.WithLabelValues(state).Inc()
}

// RecordImageFetch はURLからの画像取得をoutcome（success / failure / blocked）別に記録する。
func (c *Collector) RecordImageFetch(outcome string) {
	c.imageFetches.WithLabelValues(outcome).Inc()
}

// RecordImageFetchLatency はURLからの画像取得のレイテンシを記録する。
func (c *Collector) RecordImageFetchLatency(duration time.Duration) {
	c.imageFetchLatency.Observe(duration.Seconds())
}

// RecordSessionExpired は期限切れセッションによる拒否を記録する。
func (c *Collector) RecordSessionExpired() {
	c.sessionsExpired.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
