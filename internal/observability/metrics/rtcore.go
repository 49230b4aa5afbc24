// Package metrics provides Prometheus collectors for the processing core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolSample is one reading of a buffer pool.
type PoolSample struct {
	Available    int
	Live         int
	Capacity     int
	CreatedTotal uint64
}

// HostSample is one reading of a host's counters. Counter fields are
// cumulative; RTCoreMetrics converts them to increments.
type HostSample struct {
	Cycles          uint64
	CommandsApplied uint64
	CommandErrors   uint64
	UnitFailures    uint64
	DroppedReports  uint64
	Units           int
	PendingCommands int
}

// PortSample is one reading of a port. HasGain and HasMonitor say whether
// the port supports those facets.
type PortSample struct {
	Kind           string
	InputActivity  float64
	OutputActivity float64
	Muted          bool
	HasGain        bool
	Gain           float64
	HasMonitor     bool
	MonitorDropped uint64
	MonitorFill    int
}

// RTCoreMetrics contains Prometheus metrics for pools, hosts and ports
type RTCoreMetrics struct {
	poolAvailable *prometheus.GaugeVec
	poolLive      *prometheus.GaugeVec
	poolCapacity  *prometheus.GaugeVec
	poolCreated   *prometheus.CounterVec

	hostCycles          *prometheus.CounterVec
	hostCommands        *prometheus.CounterVec
	hostCommandErrors   *prometheus.CounterVec
	hostUnitFailures    *prometheus.CounterVec
	hostDroppedReports  *prometheus.CounterVec
	hostUnits           *prometheus.GaugeVec
	hostPendingCommands *prometheus.GaugeVec

	portInputActivity  *prometheus.GaugeVec
	portOutputActivity *prometheus.GaugeVec
	portGain           *prometheus.GaugeVec
	portMuted          *prometheus.GaugeVec
	portMonitorDropped *prometheus.CounterVec
	portMonitorFill    *prometheus.GaugeVec

	// last cumulative values, keyed by label, used to derive increments
	mu        sync.Mutex
	lastPool  map[string]uint64
	lastHost  map[string]HostSample
	lastDrops map[string]uint64

	collectors []prometheus.Collector
}

// NewRTCoreMetrics creates and registers the metrics on registry
func NewRTCoreMetrics(registry *prometheus.Registry) (*RTCoreMetrics, error) {
	m := &RTCoreMetrics{
		lastPool:  make(map[string]uint64),
		lastHost:  make(map[string]HostSample),
		lastDrops: make(map[string]uint64),
	}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RTCoreMetrics) initMetrics() {
	m.poolAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_pool_available_buffers",
			Help: "Buffers waiting in the pool free list",
		},
		[]string{"pool"},
	)
	m.poolLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_pool_live_buffers",
			Help: "Buffers created and not discarded, pooled or checked out",
		},
		[]string{"pool"},
	)
	m.poolCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_pool_capacity_buffers",
			Help: "Maximum number of buffers the pool may hold",
		},
		[]string{"pool"},
	)
	m.poolCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_pool_created_buffers_total",
			Help: "Buffers created by warm-up and refill",
		},
		[]string{"pool"},
	)

	m.hostCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_host_cycles_total",
			Help: "Processing cycles run",
		},
		[]string{"host"},
	)
	m.hostCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_host_commands_applied_total",
			Help: "Queued commands applied on the processing goroutine",
		},
		[]string{"host"},
	)
	m.hostCommandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_host_command_errors_total",
			Help: "Queued commands that returned an error",
		},
		[]string{"host"},
	)
	m.hostUnitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_host_unit_failures_total",
			Help: "Unit process calls that failed and were silenced",
		},
		[]string{"host"},
	)
	m.hostDroppedReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_host_dropped_failure_reports_total",
			Help: "Failure records dropped because the report queue was full",
		},
		[]string{"host"},
	)
	m.hostUnits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_host_units",
			Help: "Units registered in the processing graph",
		},
		[]string{"host"},
	)
	m.hostPendingCommands = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_host_pending_commands",
			Help: "Approximate number of queued commands",
		},
		[]string{"host"},
	)

	m.portInputActivity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_port_input_activity",
			Help: "Input peak (audio) or note-on activity (MIDI) since the previous sample",
		},
		[]string{"port", "kind"},
	)
	m.portOutputActivity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_port_output_activity",
			Help: "Output peak (audio) or note-on activity (MIDI) since the previous sample",
		},
		[]string{"port", "kind"},
	)
	m.portGain = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_port_gain",
			Help: "Linear port gain",
		},
		[]string{"port"},
	)
	m.portMuted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_port_muted",
			Help: "1 when the port is muted",
		},
		[]string{"port", "kind"},
	)
	m.portMonitorDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcore_port_monitor_dropped_total",
			Help: "Monitor ring elements dropped on overflow",
		},
		[]string{"port", "kind"},
	)
	m.portMonitorFill = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcore_port_monitor_buffered",
			Help: "Monitor ring elements waiting to be read",
		},
		[]string{"port", "kind"},
	)

	m.collectors = []prometheus.Collector{
		m.poolAvailable, m.poolLive, m.poolCapacity, m.poolCreated,
		m.hostCycles, m.hostCommands, m.hostCommandErrors, m.hostUnitFailures,
		m.hostDroppedReports, m.hostUnits, m.hostPendingCommands,
		m.portInputActivity, m.portOutputActivity, m.portGain, m.portMuted,
		m.portMonitorDropped, m.portMonitorFill,
	}
}

// Describe implements the Collector interface
func (m *RTCoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *RTCoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// UpdatePool records a pool reading
func (m *RTCoreMetrics) UpdatePool(pool string, s PoolSample) {
	m.poolAvailable.WithLabelValues(pool).Set(float64(s.Available))
	m.poolLive.WithLabelValues(pool).Set(float64(s.Live))
	m.poolCapacity.WithLabelValues(pool).Set(float64(s.Capacity))

	m.mu.Lock()
	delta := increment(m.lastPool[pool], s.CreatedTotal)
	m.lastPool[pool] = s.CreatedTotal
	m.mu.Unlock()
	m.poolCreated.WithLabelValues(pool).Add(float64(delta))
}

// UpdateHost records a host reading
func (m *RTCoreMetrics) UpdateHost(host string, s HostSample) {
	m.mu.Lock()
	last := m.lastHost[host]
	m.lastHost[host] = s
	m.mu.Unlock()

	m.hostCycles.WithLabelValues(host).Add(float64(increment(last.Cycles, s.Cycles)))
	m.hostCommands.WithLabelValues(host).Add(float64(increment(last.CommandsApplied, s.CommandsApplied)))
	m.hostCommandErrors.WithLabelValues(host).Add(float64(increment(last.CommandErrors, s.CommandErrors)))
	m.hostUnitFailures.WithLabelValues(host).Add(float64(increment(last.UnitFailures, s.UnitFailures)))
	m.hostDroppedReports.WithLabelValues(host).Add(float64(increment(last.DroppedReports, s.DroppedReports)))
	m.hostUnits.WithLabelValues(host).Set(float64(s.Units))
	m.hostPendingCommands.WithLabelValues(host).Set(float64(s.PendingCommands))
}

// UpdatePort records a port reading
func (m *RTCoreMetrics) UpdatePort(port string, s PortSample) {
	m.portInputActivity.WithLabelValues(port, s.Kind).Set(s.InputActivity)
	m.portOutputActivity.WithLabelValues(port, s.Kind).Set(s.OutputActivity)
	m.portMuted.WithLabelValues(port, s.Kind).Set(boolToFloat(s.Muted))
	if s.HasGain {
		m.portGain.WithLabelValues(port).Set(s.Gain)
	}
	if !s.HasMonitor {
		return
	}
	m.portMonitorFill.WithLabelValues(port, s.Kind).Set(float64(s.MonitorFill))

	m.mu.Lock()
	delta := increment(m.lastDrops[port], s.MonitorDropped)
	m.lastDrops[port] = s.MonitorDropped
	m.mu.Unlock()
	m.portMonitorDropped.WithLabelValues(port, s.Kind).Add(float64(delta))
}

// RemovePort deletes every series for a closed port
func (m *RTCoreMetrics) RemovePort(port, kind string) {
	m.portInputActivity.DeleteLabelValues(port, kind)
	m.portOutputActivity.DeleteLabelValues(port, kind)
	m.portMuted.DeleteLabelValues(port, kind)
	m.portGain.DeleteLabelValues(port)
	m.portMonitorDropped.DeleteLabelValues(port, kind)
	m.portMonitorFill.DeleteLabelValues(port, kind)

	m.mu.Lock()
	delete(m.lastDrops, port)
	m.mu.Unlock()
}

// increment returns cur-last, or cur when the source was reset.
func increment(last, cur uint64) uint64 {
	if cur < last {
		return cur
	}
	return cur - last
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
