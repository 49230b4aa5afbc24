package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/buildinfo"
	"github.com/tphakala/rtcore/internal/conf"
	"github.com/tphakala/rtcore/internal/engine"
	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
	"github.com/tphakala/rtcore/internal/port"
)

func testSettings() *conf.Settings {
	s := conf.Default()
	s.Host.ProcessInterval = time.Millisecond
	s.Host.FramesPerIteration = 64
	s.Host.MaxFrames = 256
	s.Pool.BufferSize = 256
	s.Pool.Capacity = 16
	s.Pool.LowWaterMark = 4
	s.Port.MonitorSize = 1024
	return s
}

func newTestApp(t *testing.T, s *conf.Settings, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	a, err := New(s, buildinfo.NewContext("v0.0.0-test", ""), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// runApp starts Run and returns a function that cancels it and returns its error.
func runApp(t *testing.T, a *App) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func writeWAV(t *testing.T, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loop.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 48000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:   data,
		Format: &audio.Format{SampleRate: 48000, NumChannels: 1},
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestNewRejectsMissingOrInvalidSettings(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrInvalidSettings)

	s := testSettings()
	s.Pool.Capacity = 0
	_, err = New(s, nil, WithLogger(logger.Discard()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNewFailsForMissingWAV(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Port.WAV = filepath.Join(t.TempDir(), "missing.wav")
	_, err := New(s, nil, WithLogger(logger.Discard()))
	require.Error(t, err)
}

func TestBuildsChainedGraph(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Port.Count = 3
	s.Port.MIDICount = 2
	a := newTestApp(t, s)

	require.Len(t, a.AudioPorts(), 3)
	require.Len(t, a.MIDIPorts(), 2)
	require.Len(t, a.Units(), 3)
	assert.Equal(t, "audio-2", a.Output().Name())
	assert.Equal(t, port.BackendDummy, a.Output().Backend())
	assert.Equal(t, "track-0#1", a.Units()[0].ID())
	assert.Nil(t, a.Metrics())
	assert.Equal(t, 8, a.expectedUnits)
}

func TestHardwareOutputMarksLastPort(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testSettings(), WithHardwareOutput())
	assert.Equal(t, port.BackendDummy, a.AudioPorts()[0].Backend())
	assert.Equal(t, port.BackendHardware, a.Output().Backend())
}

func TestRunDrivesHostAndFeedsMetrics(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Metrics.Enabled = true
	s.Metrics.Listen = "127.0.0.1:0"
	s.Metrics.Interval = 5 * time.Millisecond
	s.Port.WAV = writeWAV(t, []int{16384, -16384, 8192, -8192})
	a := newTestApp(t, s)
	require.NotNil(t, a.Metrics())

	stop := runApp(t, a)

	require.Eventually(t, func() bool {
		return a.Host().Stats().Units == 5 && a.Host().Stats().Cycles > 10
	}, 5*time.Second, 5*time.Millisecond)

	// The WAV plays into the first port and is mixed into the output.
	require.Eventually(t, func() bool {
		return a.Output().InputPeak() > 0.4
	}, 5*time.Second, 5*time.Millisecond)

	stats, err := a.Engine().Stats(a.Units()[0].EngineID())
	require.NoError(t, err)
	assert.Positive(t, stats.Cycles)
	assert.Equal(t, []engine.UnitID{a.Units()[1].EngineID()}, stats.Outputs)

	require.Eventually(t, func() bool {
		families, err := a.Metrics().Registry().Gather()
		if err != nil {
			return false
		}
		for _, mf := range families {
			if mf.GetName() == "rtcore_host_cycles_total" {
				return mf.GetMetric()[0].GetCounter().GetValue() > 0
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, stop())
	assert.False(t, a.Host().Running())
}

func TestRunFailsWhenMetricsAddressBusy(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := testSettings()
	s.Metrics.Enabled = true
	s.Metrics.Listen = ln.Addr().String()
	a := newTestApp(t, s)

	err = a.Run(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, a.Host().Running())
}

// fakeDevice cycles the host from its own goroutine, like a sound card callback.
type fakeDevice struct {
	a      *App
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	starts int
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.a.Host().Cycle(32)
			}
		}
	}()
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(d.stop)
	<-d.done
	return nil
}

func TestAttachedDeviceDrivesHost(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testSettings(), WithHardwareOutput())
	dev := &fakeDevice{a: a}
	a.AttachDevice(dev)

	stop := runApp(t, a)
	require.Eventually(t, func() bool {
		return a.Host().Stats().Cycles > 10 && a.Host().Stats().Units == 5
	}, 5*time.Second, time.Millisecond)
	assert.False(t, a.Host().Running(), "interval driver must stay off")

	require.NoError(t, stop())
	assert.Equal(t, 1, dev.starts)
}

func TestCloseReturnsPortBuffers(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testSettings())
	pool := a.Pool()
	// Warm-up fills the pool; two audio ports hold three buffers each.
	require.Equal(t, 16, pool.Live())
	require.Equal(t, 10, pool.Available())

	require.NoError(t, a.Close())
	assert.Empty(t, a.AudioPorts())
	assert.Equal(t, 16, pool.Available())
	require.NoError(t, a.Close())
}

func TestLoggingConfigDebugOverride(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Debug = true
	cfg := loggingConfig(s)
	assert.Equal(t, "debug", cfg.DefaultLevel)
	assert.Equal(t, "debug", cfg.Console.Level)
	assert.Equal(t, "info", s.Logging.Console.Level, "settings must not change")

	s.Debug = false
	assert.Equal(t, "info", loggingConfig(s).DefaultLevel)
}

func TestTelemetryConfig(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Telemetry.Enabled = true
	s.Telemetry.DSN = "https://key@example.invalid/1"
	cfg := telemetryConfig(s, buildinfo.NewContext("v1.2.3", ""))
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "rtcore@v1.2.3", cfg.Release)
	assert.Equal(t, "production", cfg.Environment)
}
