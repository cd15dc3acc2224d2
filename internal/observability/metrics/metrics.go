package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeExhausted = "exhausted"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_settlement_job_runs_total",
		Help: "Settlement job executions by job name.",
	}, []string{"job"})

	jobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_settlement_job_errors_total",
		Help: "Settlement job executions that returned an error.",
	}, []string{"job"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payline_settlement_job_duration_seconds",
		Help:    "Settlement job wall-clock duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	ledgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_ledger_entries_total",
		Help: "Balance transactions appended to the ledger by type.",
	}, []string{"type"})

	payoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payline_payouts_total",
		Help: "Payout requests reaching a terminal or retry outcome.",
	}, []string{"outcome"})

	settledTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payline_settled_transactions_total",
		Help: "Pending balance transactions promoted to settled.",
	})
)

func IncJobRun(job string) {
	jobRuns.WithLabelValues(job).Inc()
}

func IncJobError(job string) {
	jobErrors.WithLabelValues(job).Inc()
}

func ObserveJobDuration(job string, seconds float64) {
	jobDuration.WithLabelValues(job).Observe(seconds)
}

func IncLedgerEntry(entryType string) {
	ledgerEntries.WithLabelValues(entryType).Inc()
}

func IncPayoutOutcome(outcome string) {
	payoutOutcomes.WithLabelValues(outcome).Inc()
}

func IncSettledTransaction() {
	settledTransactions.Inc()
}
