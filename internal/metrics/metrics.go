// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventreg"

// Result labels shared by several counters.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRetry    = "retry"
	ResultDead     = "dead"
	ResultDup      = "duplicate"
	ResultConflict = "conflict"
)

// Metrics groups every instrument. A nil *Metrics is valid and records
// nothing, so packages under test can skip wiring a registry.
type Metrics struct {
	registrations  *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	paymentsOpened prometheus.Counter
	gatewayLatency *prometheus.HistogramVec
	fulfillment    *prometheus.CounterVec
	sweeps         *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration actions by resulting state.",
		}, []string{"action", "state"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_settlements_total",
			Help:      "Payment settlement attempts by outcome and result.",
		}, []string{"outcome", "result"}),
		paymentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_opened_total",
			Help:      "Pending payments created at initiation.",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of calls to the payment provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		fulfillment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_jobs_total",
			Help:      "Fulfillment job executions by result.",
		}, []string{"result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_payments_total",
			Help:      "Stale pending payments handled by the sweeper.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs per fulfillment queue list.",
		}, []string{"list"}),
	}

	reg.MustRegister(
		m.registrations,
		m.settlements,
		m.paymentsOpened,
		m.gatewayLatency,
		m.fulfillment,
		m.sweeps,
		m.httpDuration,
		m.queueDepth,
	)
	return m
}

func (m *Metrics) Registration(action, state string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(action, state).Inc()
}

func (m *Metrics) Settlement(outcome, result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome, result).Inc()
}

func (m *Metrics) PaymentOpened() {
	if m == nil {
		return
	}
	m.paymentsOpened.Inc()
}

// ObserveGateway records a provider call that started at start.
func (m *Metrics) ObserveGateway(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.gatewayLatency.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Fulfillment(result string) {
	if m == nil {
		return
	}
	m.fulfillment.WithLabelValues(result).Inc()
}

func (m *Metrics) Swept(outcome string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) QueueDepth(list string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(list).Set(float64(n))
}
