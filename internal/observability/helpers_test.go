package observability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/observability/metrics"
)

func metricsPoolSample() metrics.PoolSample {
	return metrics.PoolSample{Available: 4, Live: 8, Capacity: 8, CreatedTotal: 8}
}

// gatherValue returns the value of the single series of a gauge or counter family.
func gatherValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		metric := mf.GetMetric()[0]
		if g := metric.GetGauge(); g != nil {
			return g.GetValue()
		}
		return metric.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
