// Package metrics builds the process-wide Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors plus a hireloop_build_info gauge. Component metrics register
// onto it through their own NewMetrics constructors.
func NewRegistry(version, environment string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "hireloop_build_info",
		Help:        "Build information, always 1",
		ConstLabels: prometheus.Labels{"version": version, "environment": environment},
	}).Set(1)
	return reg
}
