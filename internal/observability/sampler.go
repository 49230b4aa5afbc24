package observability

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/rtcore/internal/bufferpool"
	"github.com/tphakala/rtcore/internal/host"
	"github.com/tphakala/rtcore/internal/logger"
	"github.com/tphakala/rtcore/internal/observability/metrics"
	"github.com/tphakala/rtcore/internal/port"
)

// PoolSource is anything that reports pool statistics.
type PoolSource interface {
	Stats() bufferpool.Stats
}

// HostSource is anything that reports host statistics.
type HostSource interface {
	ID() string
	Stats() host.Stats
}

// Sampler polls pools, hosts and ports on a control goroutine and feeds
// the readings into RTCoreMetrics. Port activity is reset after each
// reading, so gauges show the peak since the previous sample.
type Sampler struct {
	metrics  *metrics.RTCoreMetrics
	interval time.Duration
	log      logger.Logger

	mu    sync.Mutex
	pools []PoolSource
	hosts []HostSource
	ports []port.Port
}

// NewSampler creates a sampler. A nil log discards.
func NewSampler(m *metrics.RTCoreMetrics, interval time.Duration, log logger.Logger) *Sampler {
	if log == nil {
		log = logger.Discard()
	}
	return &Sampler{
		metrics:  m,
		interval: interval,
		log:      log.Module("sampler"),
	}
}

// AddPool adds a pool to the sampled set.
func (s *Sampler) AddPool(p PoolSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = append(s.pools, p)
}

// AddHost adds a host to the sampled set.
func (s *Sampler) AddHost(h HostSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = append(s.hosts, h)
}

// AddPort adds a port to the sampled set.
func (s *Sampler) AddPort(p port.Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = append(s.ports, p)
}

// RemovePort stops sampling p and drops its series.
func (s *Sampler) RemovePort(p port.Port) {
	s.mu.Lock()
	s.ports = slices.DeleteFunc(s.ports, func(x port.Port) bool { return x == p })
	s.mu.Unlock()
	s.metrics.RemovePort(p.Name(), p.Kind().String())
}

// Run samples every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Debug("sampler started", logger.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.Sample()
			s.log.Debug("sampler stopped")
			return nil
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one reading of everything registered.
func (s *Sampler) Sample() {
	s.mu.Lock()
	pools := slices.Clone(s.pools)
	hosts := slices.Clone(s.hosts)
	ports := slices.Clone(s.ports)
	s.mu.Unlock()

	for _, p := range pools {
		st := p.Stats()
		s.metrics.UpdatePool(st.Name, metrics.PoolSample{
			Available:    st.Available,
			Live:         st.Live,
			Capacity:     st.Capacity,
			CreatedTotal: st.CreatedTotal,
		})
	}
	for _, h := range hosts {
		st := h.Stats()
		s.metrics.UpdateHost(h.ID(), metrics.HostSample{
			Cycles:          st.Cycles,
			CommandsApplied: st.CommandsApplied,
			CommandErrors:   st.CommandErrors,
			UnitFailures:    st.UnitFailures,
			DroppedReports:  st.DroppedReports,
			Units:           st.Units,
			PendingCommands: st.PendingCommands,
		})
	}
	for _, p := range ports {
		s.metrics.UpdatePort(p.Name(), portSample(p))
	}
}

func portSample(p port.Port) metrics.PortSample {
	sample := metrics.PortSample{Kind: p.Kind().String()}
	if ind, ok := p.Indicators(); ok {
		sample.InputActivity = float64(ind.InputActivity())
		sample.OutputActivity = float64(ind.OutputActivity())
		ind.ResetActivity()
	}
	if mc, ok := p.MuteControl(); ok {
		sample.Muted = mc.Muted()
	}
	if gc, ok := p.GainControl(); ok {
		sample.HasGain = true
		sample.Gain = float64(gc.Gain())
	}
	if ring, ok := p.Monitor(); ok {
		sample.HasMonitor = true
		sample.MonitorDropped = ring.Dropped()
		sample.MonitorFill = ring.Buffered()
	}
	return sample
}
