package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(providerCallLatencyMs)
}

var providerCallLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "provider_call_latency_ms",
		Help:    "Provider HTTP call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
	},
	[]string{"provider", "op", "success"},
)

func ObserveProviderCall(provider, op string, latencyMs int64, success bool) {
	providerCallLatencyMs.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
