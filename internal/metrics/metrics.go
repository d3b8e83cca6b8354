// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/hitoshi/recruitman/internal/model"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// fanout.Recorder と middleware.StatusRecorder を満たす。
type Collector struct {
	policyDenied         *prometheus.CounterVec
	notificationsCreated *prometheus.CounterVec
	emailsQueued         *prometheus.CounterVec
	fanoutFailures       *prometheus.CounterVec
	emailsSent           prometheus.Counter
	emailsFailed         prometheus.Counter
	assessmentsExpired   prometheus.Counter
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		policyDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitman_policy_denied_total",
			Help: "アクセスポリシーで拒否された操作の数",
		}, []string{"table", "op"}),
		notificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitman_notifications_created_total",
			Help: "種類別の作成された通知の数",
		}, []string{"type"}),
		emailsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitman_emails_queued_total",
			Help: "種類別のメール送信キューに追加された数",
		}, []string{"type"}),
		fanoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitman_fanout_failures_total",
			Help: "巻き戻された通知ファンアウトの数",
		}, []string{"event"}),
		emailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recruitman_emails_sent_total",
			Help: "送信に成功したメールの合計数",
		}),
		emailsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recruitman_emails_failed_total",
			Help: "送信に失敗したメールの合計数",
		}),
		assessmentsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recruitman_assessments_expired_total",
			Help: "制限時間切れで期限切れにしたスキル評価結果の数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recruitman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.policyDenied,
		c.notificationsCreated,
		c.emailsQueued,
		c.fanoutFailures,
		c.emailsSent,
		c.emailsFailed,
		c.assessmentsExpired,
		c.httpStatus,
	)

	return c
}

// PolicyDenied はポリシーによる拒否を記録する。policy.Policies.OnDeny に渡す。
func (c *Collector) PolicyDenied(table string, op policy.Operation) {
	c.policyDenied.WithLabelValues(table, string(op)).Inc()
}

// NotificationsCreated は作成された通知数を記録する。
func (c *Collector) NotificationsCreated(t model.NotificationType, n int) {
	c.notificationsCreated.WithLabelValues(string(t)).Add(float64(n))
}

// EmailQueued はメール送信キューへの追加を記録する。
func (c *Collector) EmailQueued(t model.NotificationType) {
	c.emailsQueued.WithLabelValues(string(t)).Inc()
}

// FanoutFailed は巻き戻されたファンアウトを記録する。
func (c *Collector) FanoutFailed(event string) {
	c.fanoutFailures.WithLabelValues(event).Inc()
}

// EmailSent はメール送信成功を記録する。
func (c *Collector) EmailSent() {
	c.emailsSent.Inc()
}

// EmailFailed はメール送信失敗を記録する。
func (c *Collector) EmailFailed() {
	c.emailsFailed.Inc()
}

// AssessmentsExpired は期限切れにした評価結果の数を記録する。
func (c *Collector) AssessmentsExpired(n int64) {
	c.assessmentsExpired.Add(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
