package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSocketsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "estransport_sockets_open",
		Help: "Sockets currently tracked by the pool, in-use and idle.",
	}, []string{"host"})

	metricSocketsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "estransport_sockets_idle",
		Help: "Sockets currently sitting in the idle set.",
	}, []string{"host"})

	metricDialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estransport_dials_total",
		Help: "New sockets opened to the host.",
	}, []string{"host"})

	metricReusesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estransport_socket_reuses_total",
		Help: "Requests served by a socket taken from the idle set.",
	}, []string{"host"})

	metricDrainedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estransport_sockets_drained_total",
		Help: "Sockets force-closed by a pool drain.",
	}, []string{"host"})
)

// agentMetrics is the per-host slice of the package collectors.
type agentMetrics struct {
	open    prometheus.Gauge
	idle    prometheus.Gauge
	dials   prometheus.Counter
	reuses  prometheus.Counter
	drained prometheus.Counter
}

func newAgentMetrics(host string) *agentMetrics {
	return &agentMetrics{
		open:    metricSocketsOpen.WithLabelValues(host),
		idle:    metricSocketsIdle.WithLabelValues(host),
		dials:   metricDialsTotal.WithLabelValues(host),
		reuses:  metricReusesTotal.WithLabelValues(host),
		drained: metricDrainedTotal.WithLabelValues(host),
	}
}
