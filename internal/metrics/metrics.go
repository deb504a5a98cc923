package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "watchearn"

// Metrics records ledger and standing activity. A nil *Metrics is valid and
// discards every observation.
type Metrics struct {
	credits        *prometheus.CounterVec
	creditedAmount *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	progress       *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	suspensions    prometheus.Counter
	reactivations  *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	driftUsers     prometheus.Gauge
	driftAmount    prometheus.Gauge
	jobRuns        *prometheus.CounterVec
	jobLatency     *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Ledger credits segmented by earning type.",
		}, []string{"type"}),
		creditedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credited_amount_total",
			Help:      "Sum of credited amounts segmented by earning type.",
		}, []string{"type"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "duplicate_credits_total",
			Help:      "Credits rejected because the source was already paid.",
		}, []string{"type"}),
		progress: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "progress_reports_total",
			Help:      "Progress reports segmented by outcome.",
		}, []string{"outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "transitions_total",
			Help:      "Payout requests entering each status.",
		}, []string{"status"}),
		suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engagement",
			Name:      "suspensions_total",
			Help:      "Accounts suspended for missing the daily target.",
		}),
		reactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactivation",
			Name:      "orders_total",
			Help:      "Reactivation orders segmented by outcome.",
		}, []string{"outcome"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment gateway calls segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		driftUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_drift_users",
			Help:      "Users whose cached balance disagrees with the ledger at the last reconciliation.",
		}),
		driftAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "balance_drift_amount",
			Help:      "Sum of absolute balance drift at the last reconciliation.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs segmented by job and outcome.",
		}, []string{"job", "outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.credits, m.creditedAmount, m.duplicates, m.progress, m.payouts, m.suspensions,
			m.reactivations, m.gatewayCalls, m.gatewayLatency, m.driftUsers, m.driftAmount,
			m.jobRuns, m.jobLatency,
		)
	}
	return m
}

// NewRegistry returns a registry preloaded with the process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// CreditRecorded counts a successful ledger credit.
func (m *Metrics) CreditRecorded(typ string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues(typ).Inc()
	m.creditedAmount.WithLabelValues(typ).Add(amount.InexactFloat64())
}

// DuplicateCredit counts a credit refused by the uniqueness guard.
func (m *Metrics) DuplicateCredit(typ string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(typ).Inc()
}

// ProgressReport counts a watch progress report by outcome.
func (m *Metrics) ProgressReport(outcome string) {
	if m == nil {
		return
	}
	m.progress.WithLabelValues(outcome).Inc()
}

// PayoutTransition counts a payout request entering status.
func (m *Metrics) PayoutTransition(status string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}

// Suspended counts an active to suspended transition.
func (m *Metrics) Suspended() {
	if m == nil {
		return
	}
	m.suspensions.Inc()
}

// Reactivation counts a reactivation order outcome.
func (m *Metrics) Reactivation(outcome string) {
	if m == nil {
		return
	}
	m.reactivations.WithLabelValues(outcome).Inc()
}

// GatewayCall records one payment gateway round trip.
func (m *Metrics) GatewayCall(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation, outcomeOf(err)).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// BalanceDrift publishes the result of the last reconciliation.
func (m *Metrics) BalanceDrift(users int, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.driftUsers.Set(float64(users))
	m.driftAmount.Set(total.InexactFloat64())
}

// JobRun records a scheduled job execution.
func (m *Metrics) JobRun(job string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcomeOf(err)).Inc()
	m.jobLatency.WithLabelValues(job).Observe(elapsed.Seconds())
}
