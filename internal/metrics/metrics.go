// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courier"

// Metrics holds Prometheus metrics for the engine.
type Metrics struct {
	dispatched       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	units            *prometheus.CounterVec
	faults           *prometheus.CounterVec
	statusUpdates    *prometheus.CounterVec
	responses        *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	timeoutsClaimed  prometheus.Counter
	purged           *prometheus.CounterVec
}

// New creates and registers the engine metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Messages accepted for dispatch, by message kind.",
		}, []string{"kind"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one message.",
			Buckets:   prometheus.DefBuckets,
		}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Delivery units handed to channel adapters, by service and result.",
		}, []string{"service", "result"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Delivery status reports, by result.",
		}, []string{"result"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults raised by the pipeline, by kind.",
		}, []string{"kind"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Inbound responses, by channel and correlation outcome.",
		}, []string{"channel", "outcome"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation signals handled, by trigger and result.",
		}, []string{"trigger", "result"}),
		timeoutsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_claimed_total",
			Help:      "Response deadlines claimed by the sweeper.",
		}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purged_total",
			Help:      "Records removed by retention, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.dispatched,
		m.dispatchDuration,
		m.units,
		m.statusUpdates,
		m.faults,
		m.responses,
		m.escalations,
		m.timeoutsClaimed,
		m.purged,
	)
	return m
}

// Dispatched records a dispatched message and how long it took.
func (m *Metrics) Dispatched(kind string, d time.Duration) {
	m.dispatched.WithLabelValues(kind).Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

// Unit records a delivery unit and whether it reached every recipient.
func (m *Metrics) Unit(service, result string) {
	m.units.WithLabelValues(service, result).Inc()
}

// StatusUpdate records a delivery status report.
func (m *Metrics) StatusUpdate(result string) {
	m.statusUpdates.WithLabelValues(result).Inc()
}

// Fault records a fault of the given kind.
func (m *Metrics) Fault(kind string) {
	m.faults.WithLabelValues(kind).Inc()
}

// Response records an inbound response.
func (m *Metrics) Response(channel, outcome string) {
	m.responses.WithLabelValues(channel, outcome).Inc()
}

// Escalation records a handled escalation signal.
func (m *Metrics) Escalation(trigger, result string) {
	m.escalations.WithLabelValues(trigger, result).Inc()
}

// TimeoutsClaimed records deadlines claimed in one sweep.
func (m *Metrics) TimeoutsClaimed(n int) {
	m.timeoutsClaimed.Add(float64(n))
}

// Purged records records removed by retention.
func (m *Metrics) Purged(kind string, n int64) {
	m.purged.WithLabelValues(kind).Add(float64(n))
}
