// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// フォロー切り替えのアクションラベル
const (
	ActionFollow   = "follow"
	ActionUnfollow = "unfollow"
)

// 投稿画像の取り込み元ラベル
const (
	ImageSourceUpload = "upload"
	ImageSourceImport = "import"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordFollowToggle(action string)
	RecordPostCreated()
	RecordImageStored(source string)
	RecordStatsCache(hit bool)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordTokensCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	followToggles  *prometheus.CounterVec
	postsCreated   prometheus.Counter
	imagesStored   *prometheus.CounterVec
	statsCache     *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	tokensCleaned  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		followToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialapi_follow_toggles_total",
			Help: "フォロー切り替えの合計数（follow / unfollow 別）",
		}, []string{"action"}),
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialapi_posts_created_total",
			Help: "作成された投稿の合計数",
		}),
		imagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialapi_post_images_stored_total",
			Help: "保存された投稿画像の合計数（取り込み元別）",
		}, []string{"source"}),
		statsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialapi_stats_cache_total",
			Help: "ユーザー集計キャッシュの参照結果（hit / miss 別）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialapi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "socialapi_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialapi_tokens_cleaned_total",
			Help: "クリーンアップで削除された期限切れトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.followToggles,
		c.postsCreated,
		c.imagesStored,
		c.statsCache,
		c.httpStatus,
		c.requestLatency,
		c.tokensCleaned,
	)

	return c
}

// RecordFollowToggle はフォロー切り替えを記録する。
func (c *Collector) RecordFollowToggle(action string) {
	c.followToggles.WithLabelValues(action).Inc()
}

// RecordPostCreated は投稿作成を記録する。
func (c *Collector) RecordPostCreated() {
	c.postsCreated.Inc()
}

// RecordImageStored は投稿画像の保存を記録する。
func (c *Collector) RecordImageStored(source string) {
	c.imagesStored.WithLabelValues(source).Inc()
}

// RecordStatsCache は集計キャッシュのヒット・ミスを記録する。
func (c *Collector) RecordStatsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.statsCache.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordTokensCleaned は削除したトークン数を記録する。
func (c *Collector) RecordTokensCleaned(count int64) {
	c.tokensCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーはスクレイプを失敗させず、取得できたメトリクスだけを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
