package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	kernelLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_kernel_launches_total",
		Help: "Total number of kernel launches per device and operation",
	}, []string{"device", "op"})

	unsupportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_unsupported_total",
		Help: "Total number of launches or uploads rejected as unsupported",
	}, []string{"device", "op"})
)
