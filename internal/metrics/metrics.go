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
// ゲートウェイ・ファンアウト・Push配信の各層から利用する。
type MetricsCollector interface {
	SessionOpened()
	SessionClosed()
	RecordAuthFailure()
	RecordRealtimeDelivery(count int)
	RecordPushDelivery(ok bool)
	RecordPushLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsActive     prometheus.Gauge
	authFailures       prometheus.Counter
	realtimeDeliveries prometheus.Counter
	pushDeliveries     *prometheus.CounterVec
	pushLatency        prometheus.Histogram
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "comandero_ws_sessions_active",
			Help: "現在ライブなWebSocketセッション数",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comandero_ws_auth_failures_total",
			Help: "WebSocket接続時のトークン検証失敗の合計数",
		}),
		realtimeDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "comandero_realtime_deliveries_total",
			Help: "ライブセッションへ配信された通知イベントの合計数",
		}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comandero_push_deliveries_total",
			Help: "購読ごとのPush配信試行数（結果別）",
		}, []string{"result"}),
		pushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "comandero_push_latency_seconds",
			Help:    "Pushサービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "comandero_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.authFailures,
		c.realtimeDeliveries,
		c.pushDeliveries,
		c.pushLatency,
		c.httpStatus,
	)

	return c
}

// SessionOpened はライブセッション数を増やす。
func (c *Collector) SessionOpened() {
	c.sessionsActive.Inc()
}

// SessionClosed はライブセッション数を減らす。
func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

// RecordAuthFailure は接続時認証の失敗を記録する。
func (c *Collector) RecordAuthFailure() {
	c.authFailures.Inc()
}

// RecordRealtimeDelivery はライブセッションへの配信イベント数を記録する。
func (c *Collector) RecordRealtimeDelivery(count int) {
	c.realtimeDeliveries.Add(float64(count))
}

// RecordPushDelivery はPush配信試行の結果を記録する。
func (c *Collector) RecordPushDelivery(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.pushDeliveries.WithLabelValues(result).Inc()
}

// RecordPushLatency はPushサービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordPushLatency(duration time.Duration) {
	c.pushLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
