package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法对 nil 接收者安全，测试和命令行工具可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 租约指标
	LeasesCreated       *prometheus.CounterVec
	LeasesReassigned    prometheus.Counter
	LeasesExpired       prometheus.Counter
	LeasesDeleted       *prometheus.CounterVec
	QuotaRejections     *prometheus.CounterVec
	AddressCollisions   prometheus.Counter
	AllocationExhausted prometheus.Counter
	SweepDuration       prometheus.Histogram

	// 邮件指标
	MessagesReceived prometheus.Counter
	MessagesPurged   prometheus.Counter

	// 通知指标
	NotificationsDropped prometheus.Counter
	NotificationsFailed  *prometheus.CounterVec

	// 限流与错误
	RateLimitBlocks *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
}

// NewMetrics 在独立的 Registry 上创建监控指标，并附带 Go 运行时与进程指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		LeasesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_leases_created_total",
				Help: "Leases allocated, by kind (random or custom)",
			},
			[]string{"kind"},
		),
		LeasesReassigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_leases_reassigned_total",
			Help: "Expired leases claimed by a new owner",
		}),
		LeasesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_leases_expired_total",
			Help: "Leases transitioned from active to expired",
		}),
		LeasesDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_leases_deleted_total",
				Help: "Leases deleted, by reason (user or sweep)",
			},
			[]string{"reason"},
		),
		QuotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_quota_rejections_total",
				Help: "Operations rejected because the active lease quota was reached",
			},
			[]string{"operation"},
		),
		AddressCollisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_address_collisions_total",
			Help: "Random addresses that collided with an existing lease",
		}),
		AllocationExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_allocation_exhausted_total",
			Help: "Random allocations that gave up after the retry limit",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_sweep_duration_seconds",
			Help:    "Duration of a full cleanup pass",
			Buckets: prometheus.DefBuckets,
		}),

		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_messages_received_total",
			Help: "Messages accepted by the SMTP server",
		}),
		MessagesPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_messages_purged_total",
			Help: "Messages removed by retention or lease deletion",
		}),

		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_notifications_dropped_total",
			Help: "Events dropped because the notification queue was full",
		}),
		NotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_notifications_failed_total",
				Help: "Notification deliveries that failed, by sink",
			},
			[]string{"sink"},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Requests rejected by a rate limiter, by scope",
			},
			[]string{"scope"},
		),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_panics_total",
			Help: "Recovered panics",
		}),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLeaseCreated kind 为 random 或 custom
func (m *Metrics) RecordLeaseCreated(kind string) {
	if m == nil {
		return
	}
	m.LeasesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordLeaseReassigned() {
	if m == nil {
		return
	}
	m.LeasesReassigned.Inc()
}

func (m *Metrics) RecordLeasesExpired(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.LeasesExpired.Add(float64(count))
}

// RecordLeaseDeleted reason 为 user 或 sweep
func (m *Metrics) RecordLeaseDeleted(reason string) {
	if m == nil {
		return
	}
	m.LeasesDeleted.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordQuotaRejection(operation string) {
	if m == nil {
		return
	}
	m.QuotaRejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordAddressCollision() {
	if m == nil {
		return
	}
	m.AddressCollisions.Inc()
}

func (m *Metrics) RecordAllocationExhausted() {
	if m == nil {
		return
	}
	m.AllocationExhausted.Inc()
}

func (m *Metrics) RecordSweep(duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) RecordMessagesPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.MessagesPurged.Add(float64(count))
}

func (m *Metrics) RecordNotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

func (m *Metrics) RecordNotificationFailed(sink string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(sink).Inc()
}

func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
