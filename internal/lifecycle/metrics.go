package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "loads_total",
		Help:      "Model loads by runner and result.",
	}, []string{"runner", "result"})

	loadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "load_duration_seconds",
		Help:      "Time spent loading a model.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"runner"})

	evictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "evictions_total",
		Help:      "Runners unloaded to free budget.",
	}, []string{"runner"})

	runnerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "state",
		Help:      "Runner state: 0 unloaded, 1 loading, 2 loaded, 3 unloading.",
	}, []string{"runner"})

	admissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "admission_rejections_total",
		Help:      "Requests rejected because a runner queue was full or timed out.",
	}, []string{"runner"})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, evictionsTotal, runnerState, admissionRejections)
}
