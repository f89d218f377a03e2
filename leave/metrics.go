package leave

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leave_transitions_total",
		Help: "Lifecycle operations by action and outcome",
	}, []string{"action", "result"})

	transitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leave_transition_duration_seconds",
		Help:    "Lifecycle operation latency, including the store transaction",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"action"})

	ledgerChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leave_ledger_changes_total",
		Help: "Balance changes written by the ledger",
	}, []string{"kind"})

	balanceDivergences = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leave_balance_divergences",
		Help: "Employees whose cached balance disagrees with the audit trail at the last reconciliation",
	})
)

// countLedgerChange records one committed balance change.
func countLedgerChange(delta int) {
	kind := "credit"
	if delta < 0 {
		kind = "debit"
	}
	ledgerChanges.WithLabelValues(kind).Inc()
}

// outcome classifies an operation error for the result label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "invalid"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}
