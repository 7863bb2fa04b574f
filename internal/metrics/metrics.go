// Package metrics exposes the coordinator's Prometheus instrumentation.
// All recorder methods are safe to call on a nil *Registry (metrics
// disabled) so call sites never need an enabled check of their own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the coordinator publishes. A nil
// *Registry means metrics are disabled; every method below is a no-op
// on a nil receiver.
type Registry struct {
	reg *prometheus.Registry

	devicesTotal    prometheus.Gauge
	devicesOffline  prometheus.Gauge
	dispatchPaused  *prometheus.GaugeVec
	graphActiveNodes prometheus.Gauge
	graphVersion    prometheus.Gauge

	dispatchPublishes prometheus.Counter
	dispatchFaults    *prometheus.CounterVec
	safetyLatches     prometheus.Counter

	brokerConnected prometheus.Gauge
	eventWriteDrops prometheus.Counter
}

// New builds a Registry backed by a fresh prometheus.Registry. Pass
// enabled=false to get a nil *Registry instead — every recorder method
// is nil-safe, so the coordinator never branches on whether metrics
// are on.
func New(enabled bool) *Registry {
	if !enabled {
		return nil
	}

	reg := prometheus.NewRegistry()

	return &Registry{
		reg: reg,

		devicesTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "roomcore_devices_total",
			Help: "Number of devices known to the registry.",
		}),
		devicesOffline: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "roomcore_devices_offline",
			Help: "Number of devices currently considered offline.",
		}),
		dispatchPaused: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomcore_dispatch_paused",
			Help: "1 if dispatch is paused for the given reason, 0 otherwise.",
		}, []string{"reason"}),
		graphActiveNodes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "roomcore_graph_active_nodes",
			Help: "Number of active nodes in the running graph.",
		}),
		graphVersion: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "roomcore_graph_version",
			Help: "Version number of the currently loaded graph.",
		}),

		dispatchPublishes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "roomcore_dispatch_publishes_total",
			Help: "Total command publishes, including retries.",
		}),
		dispatchFaults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "roomcore_dispatch_faults_total",
			Help: "Total dispatch faults by kind.",
		}, []string{"kind"}),
		safetyLatches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "roomcore_safety_latches_total",
			Help: "Total number of times the safety latch engaged.",
		}),

		brokerConnected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "roomcore_broker_connected",
			Help: "1 if the broker session is connected, 0 otherwise.",
		}),
		eventWriteDrops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "roomcore_event_store_write_drops_total",
			Help: "Total events dropped because the writer queue was full.",
		}),
	}
}

// Gatherer exposes the underlying prometheus.Registry for the metrics
// HTTP handler. Returns nil if metrics are disabled.
func (r *Registry) Gatherer() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Registry) SetDeviceCounts(total, offline int) {
	if r == nil {
		return
	}
	r.devicesTotal.Set(float64(total))
	r.devicesOffline.Set(float64(offline))
}

// SetPauseReason zeroes every known reason gauge and sets the active
// one to 1, so a dashboard can graph "which reason, over time" off a
// single metric family.
func (r *Registry) SetPauseReason(reason string) {
	if r == nil {
		return
	}
	for _, known := range []string{"BROKER_DOWN", "SAFETY_LATCHED", "MANUAL_PAUSE", "none"} {
		v := 0.0
		if known == reason {
			v = 1.0
		}
		r.dispatchPaused.WithLabelValues(known).Set(v)
	}
}

func (r *Registry) SetGraphState(activeNodes int, version int64) {
	if r == nil {
		return
	}
	r.graphActiveNodes.Set(float64(activeNodes))
	r.graphVersion.Set(float64(version))
}

func (r *Registry) IncDispatchPublish() {
	if r == nil {
		return
	}
	r.dispatchPublishes.Inc()
}

func (r *Registry) IncDispatchFault(kind string) {
	if r == nil {
		return
	}
	r.dispatchFaults.WithLabelValues(kind).Inc()
}

func (r *Registry) IncSafetyLatch() {
	if r == nil {
		return
	}
	r.safetyLatches.Inc()
}

func (r *Registry) SetBrokerConnected(connected bool) {
	if r == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	r.brokerConnected.Set(v)
}

func (r *Registry) IncEventWriteDrop() {
	if r == nil {
		return
	}
	r.eventWriteDrops.Inc()
}
