package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 链上事件指标
	EventsObserved   prometheus.Counter
	EventsProcessed  prometheus.Counter
	EventsDuplicate  prometheus.Counter
	EventsFailed     prometheus.Counter
	EventsReplayed   prometheus.Counter

	// 服务商指标
	ProviderCalls    *prometheus.CounterVec
	ProviderFailures *prometheus.CounterVec

	// 邮箱指标
	MailboxesProvisioned prometheus.Counter
	MailboxesActive      prometheus.Gauge
	MailboxesSwept       prometheus.Counter

	// 邮件指标
	MessagesSynced prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		EventsObserved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_purchase_events_observed_total",
				Help: "Total number of purchase events observed on chain",
			},
		),

		EventsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_purchase_events_processed_total",
				Help: "Total number of purchase events reconciled successfully",
			},
		),

		EventsDuplicate: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_purchase_events_duplicate_total",
				Help: "Total number of duplicate purchase events skipped",
			},
		),

		EventsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_purchase_events_failed_total",
				Help: "Total number of purchase events that failed reconciliation",
			},
		),

		EventsReplayed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_purchase_events_replayed_total",
				Help: "Total number of unprocessed events completed by replay",
			},
		),

		ProviderCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmail_provider_calls_total",
				Help: "Total number of upstream provider calls",
			},
			[]string{"operation"},
		),

		ProviderFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmail_provider_failures_total",
				Help: "Total number of failed upstream provider calls",
			},
			[]string{"operation"},
		),

		MailboxesProvisioned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_mailboxes_provisioned_total",
				Help: "Total number of mailboxes provisioned",
			},
		),

		MailboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentmail_mailboxes_active",
				Help: "Number of active mailboxes",
			},
		),

		MailboxesSwept: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_mailboxes_swept_total",
				Help: "Total number of mailboxes deactivated by the expiry sweeper",
			},
		),

		MessagesSynced: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_messages_synced_total",
				Help: "Total number of messages synced from the provider",
			},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmail_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordEventObserved 记录观察到的链上事件
func (m *Metrics) RecordEventObserved() {
	m.EventsObserved.Inc()
}

// RecordEventProcessed 记录对账成功的事件
func (m *Metrics) RecordEventProcessed() {
	m.EventsProcessed.Inc()
}

// RecordEventDuplicate 记录被跳过的重复事件
func (m *Metrics) RecordEventDuplicate() {
	m.EventsDuplicate.Inc()
}

// RecordEventFailed 记录对账失败的事件
func (m *Metrics) RecordEventFailed() {
	m.EventsFailed.Inc()
}

// RecordEventsReplayed 记录回放完成的事件数
func (m *Metrics) RecordEventsReplayed(count int) {
	m.EventsReplayed.Add(float64(count))
}

// RecordProviderCall 记录一次服务商调用
func (m *Metrics) RecordProviderCall(operation string) {
	m.ProviderCalls.WithLabelValues(operation).Inc()
}

// RecordProviderFailure 记录一次服务商调用失败
func (m *Metrics) RecordProviderFailure(operation string) {
	m.ProviderFailures.WithLabelValues(operation).Inc()
}

// RecordMailboxProvisioned 记录邮箱开通
func (m *Metrics) RecordMailboxProvisioned() {
	m.MailboxesProvisioned.Inc()
}

// UpdateMailboxesActive 更新活跃邮箱数
func (m *Metrics) UpdateMailboxesActive(count int64) {
	m.MailboxesActive.Set(float64(count))
}

// RecordMailboxesSwept 记录清扫失活的邮箱数
func (m *Metrics) RecordMailboxesSwept(count int) {
	m.MailboxesSwept.Add(float64(count))
}

// RecordMessagesSynced 记录同步落库的邮件数
func (m *Metrics) RecordMessagesSynced(count int) {
	m.MessagesSynced.Add(float64(count))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
