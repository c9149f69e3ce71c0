package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/rail"
)

// Metrics holds all Prometheus metric collectors for the AgentPay ledger.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics.
	TransactionsCreatedTotal   *prometheus.CounterVec
	TransactionsFinalizedTotal *prometheus.CounterVec
	LimitRejectionsTotal       prometheus.Counter

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Reconciler metrics.
	ReconcileSweepsTotal   prometheus.Counter
	ReconcileCheckedTotal  prometheus.Counter
	ReconcileResolvedTotal prometheus.Counter
	ReconcileTimeoutsTotal prometheus.Counter

	// Balance oracle.
	OracleErrorsTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		TransactionsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_transactions_created_total",
			Help: "Total number of transactions accepted by the ledger.",
		}, []string{"kind", "rail"}),

		TransactionsFinalizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_transactions_finalized_total",
			Help: "Total number of transactions that reached a terminal state.",
		}, []string{"kind", "rail", "status"}),

		LimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_limit_rejections_total",
			Help: "Total number of spends rejected by card limit accounting.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_ratelimit_rejections_total",
			Help: "Total number of request rate limit rejections.",
		}, []string{"scope"}),

		ReconcileSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_reconcile_sweeps_total",
			Help: "Total number of reconciliation sweeps.",
		}),

		ReconcileCheckedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_reconcile_checked_total",
			Help: "Total number of pending transactions examined by the reconciler.",
		}),

		ReconcileResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_reconcile_resolved_total",
			Help: "Total number of transactions resolved through rail confirmation.",
		}),

		ReconcileTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_reconcile_timeouts_total",
			Help: "Total number of transactions failed for exceeding the pending deadline.",
		}),

		OracleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_oracle_errors_total",
			Help: "Total number of balance oracle failures.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpay_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TransactionsCreatedTotal,
		m.TransactionsFinalizedTotal,
		m.LimitRejectionsTotal,
		m.RateLimitRejectionsTotal,
		m.ReconcileSweepsTotal,
		m.ReconcileCheckedTotal,
		m.ReconcileResolvedTotal,
		m.ReconcileTimeoutsTotal,
		m.OracleErrorsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// TransactionCreated implements ledger.Observer.
func (m *Metrics) TransactionCreated(kind ledger.Kind, r rail.Rail) {
	m.TransactionsCreatedTotal.WithLabelValues(string(kind), string(r)).Inc()
}

// TransactionFinalized implements ledger.Observer.
func (m *Metrics) TransactionFinalized(kind ledger.Kind, r rail.Rail, status ledger.Status) {
	m.TransactionsFinalizedTotal.WithLabelValues(string(kind), string(r), string(status)).Inc()
}

// ReservationRejected implements ledger.Observer.
func (m *Metrics) ReservationRejected() {
	m.LimitRejectionsTotal.Inc()
}

// ReconcileSweep implements reconcile.Observer.
func (m *Metrics) ReconcileSweep(checked, resolved, timedOut int) {
	m.ReconcileSweepsTotal.Inc()
	m.ReconcileCheckedTotal.Add(float64(checked))
	m.ReconcileResolvedTotal.Add(float64(resolved))
	m.ReconcileTimeoutsTotal.Add(float64(timedOut))
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncOracleError increments the balance oracle failure counter.
func (m *Metrics) IncOracleError() {
	m.OracleErrorsTotal.Inc()
}
