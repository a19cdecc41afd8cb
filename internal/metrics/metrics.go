package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "walletops"

// Metrics groups the ledger's domain counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	transfersTotal           *prometheus.CounterVec
	transferredMinorTotal    prometheus.Counter
	depositsTotal            *prometheus.CounterVec
	creditedMinorTotal       prometheus.Counter
	webhookEventsTotal       *prometheus.CounterVec
	idempotencyOutcomesTotal *prometheus.CounterVec
	cleanupRunsTotal         *prometheus.CounterVec
	cleanupDeletedTotal      prometheus.Counter
	cleanupLastRunUnix       prometheus.Gauge
	sweepSettledTotal        *prometheus.CounterVec
	authFailuresTotal        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "requests_total",
				Help:      "Transfers partitioned by result.",
			},
			[]string{"result"},
		),
		transferredMinorTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "moved_minor_units_total",
				Help:      "Sum of committed transfer amounts in minor units.",
			},
		),
		depositsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposit",
				Name:      "initiations_total",
				Help:      "Deposit checkout initiations partitioned by result.",
			},
			[]string{"result"},
		),
		creditedMinorTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposit",
				Name:      "credited_minor_units_total",
				Help:      "Sum of deposit credits applied from provider webhooks.",
			},
		),
		webhookEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Provider webhook deliveries partitioned by event and outcome.",
			},
			[]string{"event", "outcome"},
		),
		idempotencyOutcomesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "requests_total",
				Help:      "Idempotent requests partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		cleanupRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "cleanup_runs_total",
				Help:      "Total cleanup runs partitioned by result.",
			},
			[]string{"result"},
		),
		cleanupDeletedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "cleanup_deleted_total",
				Help:      "Total number of expired idempotency keys deleted.",
			},
		),
		cleanupLastRunUnix: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "cleanup_last_run_unix",
				Help:      "Unix time of the most recent cleanup run.",
			},
		),
		sweepSettledTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "deposit",
				Name:      "sweep_settled_total",
				Help:      "Pending deposits settled by the sweeper, by final status.",
			},
			[]string{"status"},
		),
		authFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "failures_total",
				Help:      "Rejected credentials partitioned by reason.",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) ObserveTransfer(result string, amount int64) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.transferredMinorTotal.Add(float64(amount))
	}
}

func (m *Metrics) ObserveDepositInit(result string) {
	if m == nil {
		return
	}
	m.depositsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDepositCredit(amount int64) {
	if m == nil {
		return
	}
	m.creditedMinorTotal.Add(float64(amount))
}

func (m *Metrics) ObserveWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveIdempotency(outcome string) {
	if m == nil {
		return
	}
	m.idempotencyOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCleanup(deleted int64, err error) {
	if m == nil {
		return
	}
	m.cleanupLastRunUnix.Set(float64(time.Now().Unix()))
	if err != nil {
		m.cleanupRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRunsTotal.WithLabelValues("ok").Inc()
	m.cleanupDeletedTotal.Add(float64(deleted))
}

func (m *Metrics) ObserveSweep(status string) {
	if m == nil {
		return
	}
	m.sweepSettledTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailuresTotal.WithLabelValues(reason).Inc()
}
