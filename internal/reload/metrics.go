package reload

import "github.com/prometheus/client_golang/prometheus"

var (
	reloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "reload",
		Name:      "total",
		Help:      "Settings reloads by result.",
	}, []string{"result"})

	changesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "reload",
		Name:      "changes_total",
		Help:      "Applied settings changes by kind and result.",
	}, []string{"kind", "result"})
)

func init() {
	prometheus.MustRegister(reloadsTotal, changesTotal)
}
