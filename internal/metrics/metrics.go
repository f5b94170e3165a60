// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Webhookハンドラー、照合処理、修復ジョブから利用する。
type MetricsCollector interface {
	RecordWebhook(provider, outcome string)
	RecordVerificationFailure(provider string)
	RecordReconcile(eventType, outcome string)
	RecordAnomaly(eventType string)
	RecordCorrelationLookup(outcome string, duration time.Duration)
	RecordRepair(repaired, failed int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhooks           *prometheus.CounterVec
	verificationFail   *prometheus.CounterVec
	reconcile          *prometheus.CounterVec
	anomalies          *prometheus.CounterVec
	lookupLatency      *prometheus.HistogramVec
	repairedEnrollment prometheus.Counter
	repairFail         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edumarket_webhook_deliveries_total",
			Help: "Webhook受信数（送信元・処理結果別）",
		}, []string{"provider", "outcome"}),
		verificationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edumarket_webhook_verification_failures_total",
			Help: "Webhook署名検証失敗の合計数",
		}, []string{"provider"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edumarket_reconcile_total",
			Help: "決済イベント照合の結果別件数",
		}, []string{"event_type", "outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edumarket_reconcile_anomalies_total",
			Help: "確定済みの購入と矛盾する決済イベントの件数",
		}, []string{"event_type"}),
		lookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edumarket_correlation_lookup_seconds",
			Help:    "決済プロバイダーへの購入ID問い合わせのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		repairedEnrollment: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edumarket_enrollment_repaired_total",
			Help: "修復ジョブが再適用した受講登録の合計数",
		}),
		repairFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edumarket_enrollment_repair_failures_total",
			Help: "修復ジョブで再適用に失敗した購入の合計数",
		}),
	}

	reg.MustRegister(
		c.webhooks,
		c.verificationFail,
		c.reconcile,
		c.anomalies,
		c.lookupLatency,
		c.repairedEnrollment,
		c.repairFail,
	)

	return c
}

// RecordWebhook はWebhook受信を記録する。
func (c *Collector) RecordWebhook(provider, outcome string) {
	c.webhooks.WithLabelValues(provider, outcome).Inc()
}

// RecordVerificationFailure は署名検証失敗を記録する。
func (c *Collector) RecordVerificationFailure(provider string) {
	c.verificationFail.WithLabelValues(provider).Inc()
}

// RecordReconcile は決済イベント照合の結果を記録する。
func (c *Collector) RecordReconcile(eventType, outcome string) {
	c.reconcile.WithLabelValues(eventType, outcome).Inc()
}

// RecordAnomaly は確定済み購入と矛盾するイベントを記録する。
func (c *Collector) RecordAnomaly(eventType string) {
	c.anomalies.WithLabelValues(eventType).Inc()
}

// RecordCorrelationLookup は購入ID問い合わせの結果とレイテンシを記録する。
func (c *Collector) RecordCorrelationLookup(outcome string, duration time.Duration) {
	c.lookupLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRepair は修復ジョブ1回分の結果を記録する。
func (c *Collector) RecordRepair(repaired, failed int) {
	c.repairedEnrollment.Add(float64(repaired))
	c.repairFail.Add(float64(failed))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
