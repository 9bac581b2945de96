// Package metrics exposes RemindPipe's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values for the sent counter.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the reminder counters and the registry they are exported from.
type Metrics struct {
	registry         *prometheus.Registry
	remindersSent    *prometheus.CounterVec
	remindersSkipped *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// New creates the instruments on a fresh registry. Go runtime and process
// collectors are included so /metrics is useful on its own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Reminder send attempts by type, tenant and outcome.",
		}, []string{"type", "tenant_id", "status"}),
		remindersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_skipped_total",
			Help: "Reminder deliveries that ended without a send, by reason.",
		}, []string{"reason"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reminder_dispatch_duration_seconds",
			Help:    "Time spent handling one delivered reminder job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.remindersSent,
		m.remindersSkipped,
		m.dispatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// IncSent counts one send attempt.
func (m *Metrics) IncSent(kind, tenantID, status string) {
	m.remindersSent.WithLabelValues(kind, tenantID, status).Inc()
}

// IncSkipped counts one delivery that ended without a send.
func (m *Metrics) IncSkipped(reason string) {
	m.remindersSkipped.WithLabelValues(reason).Inc()
}

// ObserveDispatch records how long one dispatch took.
func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	m.dispatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SentCounter exposes the sent counter for assertions.
func (m *Metrics) SentCounter() *prometheus.CounterVec {
	return m.remindersSent
}

// SkippedCounter exposes the skipped counter for assertions.
func (m *Metrics) SkippedCounter() *prometheus.CounterVec {
	return m.remindersSkipped
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
