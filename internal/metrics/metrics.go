// Package metrics exposes Prometheus instrumentation for the monitoring
// subsystem. All methods are nil-safe so instrumentation stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for one monitoring subsystem instance.
type Metrics struct {
	connectionState  prometheus.Gauge
	reconnectsTotal  prometheus.Counter
	connectFailures  prometheus.Counter
	rpcErrors        *prometheus.CounterVec
	droppedSnapshots prometheus.Counter
	monitoredCount   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqmon",
			Name:      "connection_state",
			Help:      "Current connection state (0=connecting, 1=connected, 2=disconnected, 3=reconnecting).",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqmon",
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts scheduled.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqmon",
			Name:      "connect_failures_total",
			Help:      "Number of failed connection attempts.",
		}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seqmon",
			Name:      "rpc_errors_total",
			Help:      "RPC failures by error kind.",
		}, []string{"kind"}),
		droppedSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqmon",
			Name:      "dropped_snapshots_total",
			Help:      "Statistics snapshots discarded by backpressure.",
		}),
		monitoredCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqmon",
			Name:      "monitored_positions",
			Help:      "Positions currently monitored.",
		}),
	}

	reg.MustRegister(
		m.connectionState,
		m.reconnectsTotal,
		m.connectFailures,
		m.rpcErrors,
		m.droppedSnapshots,
		m.monitoredCount,
	)
	return m
}

// SetConnectionState records the current state machine position.
func (m *Metrics) SetConnectionState(code int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(code))
}

// ReconnectScheduled counts one scheduled reconnect attempt.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// ConnectFailed counts one failed connection attempt.
func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

// RPCError counts one classified RPC failure.
func (m *Metrics) RPCError(kind string) {
	if m == nil {
		return
	}
	m.rpcErrors.WithLabelValues(kind).Inc()
}

// SnapshotsDropped adds to the backpressure drop counter.
func (m *Metrics) SnapshotsDropped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedSnapshots.Add(float64(n))
}

// SetMonitored records the size of the monitored set.
func (m *Metrics) SetMonitored(n int) {
	if m == nil {
		return
	}
	m.monitoredCount.Set(float64(n))
}
