package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		tasksSubmittedTotal,
		tasksFinishedTotal,
		submitRejectedTotal,
		sweepReconciledTotal,
	)
}

var (
	tasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tasks_submitted_total",
			Help: "Tasks accepted and handed to a provider, labeled by provider.",
		},
		[]string{"provider"},
	)

	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tasks_finished_total",
			Help: "Tasks reaching a terminal state, labeled by provider and status.",
		},
		[]string{"provider", "status"},
	)

	submitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_submit_rejected_total",
			Help: "Submissions rejected before a provider call, labeled by cause.",
		},
		[]string{"cause"},
	)

	sweepReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_sweep_reconciled_total",
			Help: "Stale tasks the sweep job re-checked.",
		},
	)
)

func IncTaskSubmitted(provider string) {
	tasksSubmittedTotal.WithLabelValues(norm(provider)).Inc()
}

func IncTaskFinished(provider, status string) {
	tasksFinishedTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func IncSubmitRejected(cause string) {
	submitRejectedTotal.WithLabelValues(norm(cause)).Inc()
}

func IncSweepReconciled() { sweepReconciledTotal.Inc() }
