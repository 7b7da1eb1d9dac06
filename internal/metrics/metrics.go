package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 自动化引擎与通知投递的 Prometheus 指标
// 所有方法对 nil 接收者安全，未启用监控时可直接传 nil
type Metrics struct {
	DispatchesTotal    *prometheus.CounterVec
	MatchesTotal       *prometheus.CounterVec
	ActionsTotal       *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	NotificationsTotal *prometheus.CounterVec
	EventLogSize       prometheus.Gauge
}

// New 在给定的 Registerer 上注册全部指标；reg 为 nil 时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		DispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacticaldesk_automation_dispatches_total",
			Help: "Total number of events dispatched to the automation engine",
		}, []string{"event"}),
		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacticaldesk_automation_matches_total",
			Help: "Total number of automations that matched a dispatched event",
		}, []string{"event"}),
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacticaldesk_automation_actions_total",
			Help: "Total number of automation actions by kind and outcome",
		}, []string{"action", "outcome"}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tacticaldesk_automation_dispatch_duration_seconds",
			Help:    "Duration of a full dispatch including action handlers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"event"}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tacticaldesk_notifications_total",
			Help: "Total number of notification deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
		EventLogSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tacticaldesk_automation_event_log_size",
			Help: "Number of records currently held by the in-memory event log",
		}),
	}
}

// ObserveDispatch records one dispatch and its duration.
// Call with time.Now() at the start of the dispatch.
func (m *Metrics) ObserveDispatch(event string, start time.Time) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(event).Inc()
	m.DispatchDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
}

// IncrementMatches adds n matched automations for event.
func (m *Metrics) IncrementMatches(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MatchesTotal.WithLabelValues(event).Add(float64(n))
}

// IncrementAction records an action outcome: success, failed or skipped.
func (m *Metrics) IncrementAction(action, outcome string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, outcome).Inc()
}

// IncrementNotification records a notification outcome: sent, failed,
// skipped or rejected (circuit open).
func (m *Metrics) IncrementNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// SetEventLogSize reports the current event log length.
func (m *Metrics) SetEventLogSize(n int) {
	if m == nil {
		return
	}
	m.EventLogSize.Set(float64(n))
}
