package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics tracks live session feed streams served over WebSocket.
type StreamMetrics struct {
	ActiveStreams   *prometheus.GaugeVec
	ActionsTotal    *prometheus.CounterVec
	UpgradeFailures prometheus.Counter
}

func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Number of open live session streams by tab.",
		}, []string{"tab"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "actions_total",
			Help:      "Client actions received over live session streams.",
		}, []string{"action", "result"}),
		UpgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "upgrade_failures_total",
			Help:      "Total failed WebSocket upgrades.",
		}),
	}

	reg.MustRegister(m.ActiveStreams, m.ActionsTotal, m.UpgradeFailures)
	return m
}
