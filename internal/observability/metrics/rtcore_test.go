package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*RTCoreMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := NewRTCoreMetrics(registry)
	require.NoError(t, err)
	return m, registry
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	_, registry := newTestMetrics(t)
	_, err := NewRTCoreMetrics(registry)
	assert.Error(t, err)
}

func TestUpdatePoolConvertsTotalsToIncrements(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	m.UpdatePool("samples", PoolSample{Available: 2, Live: 4, Capacity: 8, CreatedTotal: 4})
	m.UpdatePool("samples", PoolSample{Available: 3, Live: 6, Capacity: 8, CreatedTotal: 6})

	assert.InDelta(t, 6, testutil.ToFloat64(m.poolCreated.WithLabelValues("samples")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.poolAvailable.WithLabelValues("samples")), 0)
	assert.InDelta(t, 6, testutil.ToFloat64(m.poolLive.WithLabelValues("samples")), 0)
	assert.InDelta(t, 8, testutil.ToFloat64(m.poolCapacity.WithLabelValues("samples")), 0)
}

func TestUpdateHost(t *testing.T) {
	t.Parallel()

	m, registry := newTestMetrics(t)
	m.UpdateHost("h1", HostSample{Cycles: 10, CommandsApplied: 3, UnitFailures: 1, Units: 2})
	m.UpdateHost("h1", HostSample{Cycles: 25, CommandsApplied: 3, UnitFailures: 2, Units: 3, PendingCommands: 1})

	expected := `
# HELP rtcore_host_cycles_total Processing cycles run
# TYPE rtcore_host_cycles_total counter
rtcore_host_cycles_total{host="h1"} 25
# HELP rtcore_host_unit_failures_total Unit process calls that failed and were silenced
# TYPE rtcore_host_unit_failures_total counter
rtcore_host_unit_failures_total{host="h1"} 2
# HELP rtcore_host_units Units registered in the processing graph
# TYPE rtcore_host_units gauge
rtcore_host_units{host="h1"} 3
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"rtcore_host_cycles_total", "rtcore_host_unit_failures_total", "rtcore_host_units")
	assert.NoError(t, err)
}

func TestUpdatePortFacets(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	m.UpdatePort("midi-in", PortSample{Kind: "midi", InputActivity: 1, Muted: true})
	assert.Equal(t, 0, testutil.CollectAndCount(m.portGain), "no gain facet, no gain series")
	assert.Equal(t, 0, testutil.CollectAndCount(m.portMonitorDropped))
	assert.InDelta(t, 1, testutil.ToFloat64(m.portMuted.WithLabelValues("midi-in", "midi")), 0)

	m.UpdatePort("out", PortSample{Kind: "audio", HasGain: true, Gain: 0.5, HasMonitor: true, MonitorDropped: 7, MonitorFill: 12})
	m.UpdatePort("out", PortSample{Kind: "audio", HasGain: true, Gain: 0.5, HasMonitor: true, MonitorDropped: 9})
	assert.InDelta(t, 9, testutil.ToFloat64(m.portMonitorDropped.WithLabelValues("out", "audio")), 0)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.portGain.WithLabelValues("out")), 0)

	m.RemovePort("out", "audio")
	assert.Equal(t, 0, testutil.CollectAndCount(m.portGain))
	assert.Equal(t, 0, testutil.CollectAndCount(m.portMonitorDropped))
}

func TestIncrementHandlesReset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(5), increment(10, 15))
	assert.Equal(t, uint64(3), increment(10, 3))
	assert.Equal(t, uint64(0), increment(4, 4))
}
