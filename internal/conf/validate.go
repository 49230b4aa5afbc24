package conf

import (
	"fmt"
	"net"
	"strings"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// ValidationError collects every problem found in a Settings value.
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return "invalid settings: " + strings.Join(ve.Errors, "; ")
}

func (ve *ValidationError) addf(format string, args ...any) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

// Validate checks ranges and cross-field constraints. The returned error
// wraps a ValidationError listing every problem.
func (s *Settings) Validate() error {
	ve := ValidationError{}

	validatePool(&s.Pool, &ve)
	validateHost(&s.Host, &ve)
	validatePort(&s.Port, &ve)
	validateDevice(&s.Device, &ve)
	validateLogging(&s.Logging, &ve)
	validateMetrics(&s.Metrics, &ve)
	validateTelemetry(&s.Telemetry, &ve)

	if s.Pool.BufferSize < s.Host.MaxFrames {
		ve.addf("pool.buffersize (%d) must hold host.maxframes (%d)", s.Pool.BufferSize, s.Host.MaxFrames)
	}
	if need := s.Port.Count * 3; need > s.Pool.Capacity {
		ve.addf("pool.capacity (%d) is below the %d buffers needed by %d ports", s.Pool.Capacity, need, s.Port.Count)
	}
	// Every audio port runs next to one engine unit.
	if units := 2*s.Port.Count + s.Port.MIDICount; units > s.Host.MaxUnits {
		ve.addf("host.maxunits (%d) is below the %d units needed by the configured ports", s.Host.MaxUnits, units)
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component(ComponentConf).
			Category(errors.CategoryValidation).
			Context("problems", len(ve.Errors)).
			Build()
	}
	return nil
}

func validatePool(p *PoolSettings, ve *ValidationError) {
	if p.Capacity <= 0 {
		ve.addf("pool.capacity must be positive")
	}
	if p.LowWaterMark < 0 || p.LowWaterMark >= p.Capacity {
		ve.addf("pool.lowwatermark must be in [0, capacity)")
	}
	if p.Prewarm < 0 || p.Prewarm > p.Capacity {
		ve.addf("pool.prewarm must be in [0, capacity]")
	}
	if p.BufferSize <= 0 {
		ve.addf("pool.buffersize must be positive")
	}
}

func validateHost(h *HostSettings, ve *ValidationError) {
	if h.ProcessInterval <= 0 {
		ve.addf("host.processinterval must be positive")
	}
	if h.FramesPerIteration <= 0 {
		ve.addf("host.framesperiteration must be positive")
	}
	if h.MaxFrames < h.FramesPerIteration {
		ve.addf("host.maxframes must be at least host.framesperiteration")
	}
	if h.CommandBudget < 0 {
		ve.addf("host.commandbudget must not be negative")
	}
	if h.MaxUnits <= 0 {
		ve.addf("host.maxunits must be positive")
	}
	if h.FailureQueueSize <= 0 {
		ve.addf("host.failurequeuesize must be positive")
	}
	if h.FailureLogRate <= 0 || h.FailureLogBurst <= 0 {
		ve.addf("host.failurelograte and host.failurelogburst must be positive")
	}
}

func validatePort(p *PortSettings, ve *ValidationError) {
	if p.Count < 0 {
		ve.addf("port.count must not be negative")
	}
	if p.MaxConnections < 0 {
		ve.addf("port.maxconnections must not be negative")
	}
	if p.MonitorSize < 0 {
		ve.addf("port.monitorsize must not be negative")
	}
	if p.MIDICount < 0 {
		ve.addf("port.midicount must not be negative")
	}
	if p.MIDICount > 0 && p.MaxEvents <= 0 {
		ve.addf("port.maxevents must be positive when MIDI ports are enabled")
	}
	switch strings.ToLower(p.OverflowPolicy) {
	case "drop-oldest", "reject":
	default:
		ve.addf("port.overflowpolicy must be drop-oldest or reject, got %q", p.OverflowPolicy)
	}
}

func validateDevice(d *DeviceSettings, ve *ValidationError) {
	if d.SampleRate == 0 || d.Channels == 0 || d.PeriodFrames == 0 {
		ve.addf("device.samplerate, device.channels and device.periodframes must be positive")
	}
}

func validateLogging(l *logger.LoggingConfig, ve *ValidationError) {
	levels := []string{l.DefaultLevel}
	if l.Console != nil {
		levels = append(levels, l.Console.Level)
	}
	if l.FileOutput != nil {
		levels = append(levels, l.FileOutput.Level)
		if l.FileOutput.Enabled && l.FileOutput.Path == "" {
			ve.addf("logging.file_output.path is required when file output is enabled")
		}
	}
	for _, lvl := range l.ModuleLevels {
		levels = append(levels, lvl)
	}
	for _, lvl := range levels {
		if !logger.ValidLevel(lvl) {
			ve.addf("unknown log level %q", lvl)
		}
	}
}

func validateMetrics(m *MetricsSettings, ve *ValidationError) {
	if !m.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		ve.addf("metrics.listen %q: %v", m.Listen, err)
	}
	if m.Interval <= 0 {
		ve.addf("metrics.interval must be positive")
	}
}

func validateTelemetry(t *TelemetrySettings, ve *ValidationError) {
	if !t.Enabled {
		return
	}
	if t.DSN == "" {
		ve.addf("telemetry.dsn is required when telemetry is enabled")
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		ve.addf("telemetry.samplerate must be in [0, 1]")
	}
}
