package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create as many as they like.
// All recording methods are safe on a nil receiver.
type Metrics struct {
	reg *prometheus.Registry

	dedup           *prometheus.CounterVec
	debounceFlushes prometheus.Counter
	debouncePending prometheus.Gauge
	webhook         *prometheus.CounterVec
	nudges          *prometheus.CounterVec
	lock            *prometheus.CounterVec
	jobs            *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		dedup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Name:      "dedup_verdicts_total",
			Help:      "Dedup filter verdicts by outcome.",
		}, []string{"verdict"}),
		debounceFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdr",
			Name:      "debounce_flushes_total",
			Help:      "Aggregated text units handed to processing.",
		}),
		debouncePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdr",
			Name:      "debounce_pending_buffers",
			Help:      "Conversations with buffered, not yet flushed text.",
		}),
		webhook: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Name:      "webhook_requests_total",
			Help:      "Webhook responses by status and reason.",
		}, []string{"status", "reason"}),
		nudges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Name:      "reengagement_nudges_total",
			Help:      "Reengagement nudges by tier and outcome.",
		}, []string{"tier", "outcome"}),
		lock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Name:      "lock_operations_total",
			Help:      "Lock manager operations by op and outcome.",
		}, []string{"op", "outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdr",
			Name:      "jobs_total",
			Help:      "Background jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dedup, m.debounceFlushes, m.debouncePending, m.webhook, m.nudges, m.lock, m.jobs,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) DedupVerdict(verdict string) {
	if m == nil {
		return
	}
	m.dedup.WithLabelValues(verdict).Inc()
}

func (m *Metrics) DebounceFlushed() {
	if m == nil {
		return
	}
	m.debounceFlushes.Inc()
}

func (m *Metrics) DebouncePending(n int) {
	if m == nil {
		return
	}
	m.debouncePending.Set(float64(n))
}

func (m *Metrics) WebhookOutcome(status, reason string) {
	if m == nil {
		return
	}
	m.webhook.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) Nudge(tier int, outcome string) {
	if m == nil {
		return
	}
	m.nudges.WithLabelValues(strconv.Itoa(tier), outcome).Inc()
}

func (m *Metrics) LockOp(op, outcome string) {
	if m == nil {
		return
	}
	m.lock.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Job(kind, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, outcome).Inc()
}
