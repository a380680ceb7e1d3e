package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Dispatched requests by capability, runner and outcome.",
	}, []string{"capability", "runner", "outcome", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inferd",
		Subsystem: "dispatch",
		Name:      "request_duration_seconds",
		Help:      "Time from dispatch to terminal result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"capability", "runner"})

	activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "dispatch",
		Name:      "active_requests",
		Help:      "Requests between dispatch and terminal result.",
	})

	streamChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "dispatch",
		Name:      "stream_chunks_total",
		Help:      "Partial results delivered to consumers.",
	}, []string{"capability"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, activeRequests, streamChunks)
}
