package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		creditsSpentTotal,
		creditsGrantedTotal,
	)
}

var (
	creditsSpentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_spent_total",
			Help: "Credits deducted from user balances, labeled by reason.",
		},
		[]string{"reason"},
	)

	creditsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_granted_total",
			Help: "Credits added to user balances, labeled by reason.",
		},
		[]string{"reason"},
	)
)

func AddCreditsSpent(reason string, amount int64) {
	creditsSpentTotal.WithLabelValues(norm(reason)).Add(float64(amount))
}

func AddCreditsGranted(reason string, amount int64) {
	creditsGrantedTotal.WithLabelValues(norm(reason)).Add(float64(amount))
}
