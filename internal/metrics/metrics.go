// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/vpswatch/internal/model"
)

// Collector はPrometheusメトリクスを収集する実装。
// ポーラー、ディスパッチャー、ハブの各計測ポイントから利用する。
type Collector struct {
	pollSuccess   *prometheus.CounterVec
	pollFail      *prometheus.CounterVec
	pollSkipped   *prometheus.CounterVec
	parseFallback *prometheus.CounterVec
	statusChanges prometheus.Counter
	pollLatency   prometheus.Histogram

	emailSent        prometheus.Counter
	emailFailed      prometheus.Counter
	emailRateLimited prometheus.Counter

	hubConnections prometheus.Gauge
	hubEvictions   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pollSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpswatch_poll_success_total",
			Help: "モデル別の在庫確認成功の合計数",
		}, []string{"model"}),
		pollFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpswatch_poll_fail_total",
			Help: "モデル別の在庫確認失敗の合計数",
		}, []string{"model"}),
		pollSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpswatch_poll_skipped_total",
			Help: "ブレーカー開放によりスキップされた確認の合計数",
		}, []string{"model"}),
		parseFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpswatch_parse_fallback_total",
			Help: "応答形状が認識できずフォールバック解釈した回数",
		}, []string{"model"}),
		statusChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpswatch_status_changes_total",
			Help: "検知された在庫状態変化の合計数",
		}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vpswatch_poll_latency_seconds",
			Help:    "プロバイダー在庫確認のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		emailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpswatch_email_sent_total",
			Help: "送信に成功した通知メールの合計数",
		}),
		emailFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpswatch_email_failed_total",
			Help: "送信に失敗した通知メールの合計数",
		}),
		emailRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpswatch_email_rate_limited_total",
			Help: "レート制限により延期された通知メールの合計数",
		}),
		hubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vpswatch_hub_connections",
			Help: "イベントハブの現在の接続数",
		}),
		hubEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpswatch_hub_evictions_total",
			Help: "低速コンシューマーの退去の合計数",
		}),
	}

	reg.MustRegister(
		c.pollSuccess,
		c.pollFail,
		c.pollSkipped,
		c.parseFallback,
		c.statusChanges,
		c.pollLatency,
		c.emailSent,
		c.emailFailed,
		c.emailRateLimited,
		c.hubConnections,
		c.hubEvictions,
	)

	return c
}

// RecordPollSuccess は在庫確認成功を記録する。
func (c *Collector) RecordPollSuccess(m model.Model) {
	c.pollSuccess.WithLabelValues(m.String()).Inc()
}

// RecordPollFailure は在庫確認失敗を記録する。
func (c *Collector) RecordPollFailure(m model.Model, reason string) {
	c.pollFail.WithLabelValues(m.String()).Inc()
}

// RecordPollSkipped はブレーカー開放によるスキップを記録する。
func (c *Collector) RecordPollSkipped(m model.Model) {
	c.pollSkipped.WithLabelValues(m.String()).Inc()
}

// RecordParseFallback はフォールバック解釈の発生を記録する。
func (c *Collector) RecordParseFallback(m model.Model) {
	c.parseFallback.WithLabelValues(m.String()).Inc()
}

// RecordStatusChanges は検知された状態変化数を記録する。
func (c *Collector) RecordStatusChanges(count int) {
	c.statusChanges.Add(float64(count))
}

// RecordPollLatency は在庫確認のレイテンシを記録する。
func (c *Collector) RecordPollLatency(duration time.Duration) {
	c.pollLatency.Observe(duration.Seconds())
}

// RecordEmailSent はメール送信成功を記録する。
func (c *Collector) RecordEmailSent() {
	c.emailSent.Inc()
}

// RecordEmailFailed はメール送信失敗を記録する。
func (c *Collector) RecordEmailFailed() {
	c.emailFailed.Inc()
}

// RecordEmailRateLimited はレート制限による延期を記録する。
func (c *Collector) RecordEmailRateLimited() {
	c.emailRateLimited.Inc()
}

// RecordHubConnect はハブへの新規接続を記録する。
func (c *Collector) RecordHubConnect() {
	c.hubConnections.Inc()
}

// RecordHubDisconnect はハブからの切断を記録する。
func (c *Collector) RecordHubDisconnect() {
	c.hubConnections.Dec()
}

// RecordHubEviction は低速コンシューマーの退去を記録する。
// 退去は切断でもあるため接続数ゲージも減算する。
func (c *Collector) RecordHubEviction() {
	c.hubConnections.Dec()
	c.hubEvictions.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
