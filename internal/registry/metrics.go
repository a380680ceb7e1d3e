package registry

import "github.com/prometheus/client_golang/prometheus"

var registryRunners = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferd",
	Subsystem: "registry",
	Name:      "runners",
	Help:      "Number of registered runners.",
})

func init() {
	prometheus.MustRegister(registryRunners)
}
