// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordTaskCreated()
	RecordTaskDeleted()
	RecordAuthFailure(reason string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	tasksCreated   prometheus.Counter
	tasksDeleted   prometheus.Counter
	authFailures   *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_http_requests_total",
			Help: "ルート・ステータス別のHTTPリクエスト数",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_tasks_created_total",
			Help: "作成されたタスクの合計数",
		}),
		tasksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_tasks_deleted_total",
			Help: "削除されたタスクの合計数",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_auth_failures_total",
			Help: "理由別の認証失敗数",
		}, []string{"reason"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_sessions_purged_total",
			Help: "掃除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.tasksCreated,
		c.tasksDeleted,
		c.authFailures,
		c.sessionsPurged,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはchiのルートパターンを渡し、ラベルの種類を有限に保つ。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTaskCreated はタスク作成を記録する。
func (c *Collector) RecordTaskCreated() {
	c.tasksCreated.Inc()
}

// RecordTaskDeleted はタスク削除を記録する。
func (c *Collector) RecordTaskDeleted() {
	c.tasksDeleted.Inc()
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordSessionsPurged は掃除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordTaskCreated()                                  {}
func (Nop) RecordTaskDeleted()                                  {}
func (Nop) RecordAuthFailure(string)                            {}
func (Nop) RecordSessionsPurged(int64)                          {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
