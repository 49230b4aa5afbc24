package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtcore/internal/bufferpool"
	"github.com/tphakala/rtcore/internal/errors"
)

func TestAudioPortReplaysLoadedBuffer(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 3, 4)
	p := newTestAudioPort(t, sched, pool, "replay", 4)
	proc := p.Processor()

	require.NoError(t, p.LoadBuffer([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, false))
	p.SetGain(2)
	assert.Equal(t, 1, sched.run())

	require.NoError(t, proc.Process(4))
	assert.InDeltaSlice(t, []float32{0.2, 0.4, 0.6, 0.8}, proc.Output(), 1e-6)
	assert.InDelta(t, 0.4, p.InputPeak(), 1e-6)
	assert.InDelta(t, 0.8, p.OutputPeak(), 1e-6)

	require.NoError(t, proc.Process(4))
	assert.InDeltaSlice(t, []float32{1.0, 1.2, 0, 0}, proc.Output(), 1e-6, "one-shot buffer is followed by silence")

	require.NoError(t, proc.Process(2))
	assert.InDeltaSlice(t, []float32{0, 0}, proc.Output(), 0)
}

func TestAudioPortLoopAndReplay(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	p := newTestAudioPort(t, sched, newTestPool(t, 3, 4), "loop", 4)
	proc := p.Processor()

	require.NoError(t, p.LoadBuffer([]float32{1, 2, 3}, true))
	sched.run()

	require.NoError(t, proc.Process(4))
	assert.InDeltaSlice(t, []float32{1, 2, 3, 1}, proc.Output(), 0)
	require.NoError(t, proc.Process(4))
	assert.InDeltaSlice(t, []float32{2, 3, 1, 2}, proc.Output(), 0)

	require.NoError(t, p.Replay())
	sched.run()
	require.NoError(t, proc.Process(2))
	assert.InDeltaSlice(t, []float32{1, 2}, proc.Output(), 0)

	require.NoError(t, p.ClearBuffer())
	sched.run()
	require.NoError(t, proc.Process(2))
	assert.InDeltaSlice(t, []float32{0, 0}, proc.Output(), 0)
}

func TestLoadBufferCopiesSamples(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	p := newTestAudioPort(t, sched, newTestPool(t, 3, 2), "copy", 2)

	samples := []float32{0.5, 0.5}
	require.NoError(t, p.LoadBuffer(samples, false))
	samples[0] = 9
	sched.run()

	require.NoError(t, p.Processor().Process(2))
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, p.Processor().Output(), 0)
}

func TestMutedPortOutputsSilenceButMetersInput(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	p := newTestAudioPort(t, sched, newTestPool(t, 3, 4), "muted", 4)
	require.NoError(t, p.LoadBuffer([]float32{0.5, -0.75, 0.25, 0}, false))
	sched.run()

	p.SetMuted(true)
	require.NoError(t, p.Processor().Process(4))
	assert.InDeltaSlice(t, []float32{0, 0, 0, 0}, p.Processor().Output(), 0)
	assert.InDelta(t, 0.75, p.InputPeak(), 1e-6)
}

func TestConnectMixesIntoPeer(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 9, 4)
	a := newTestAudioPort(t, sched, pool, "a", 4)
	b := newTestAudioPort(t, sched, pool, "b", 4)
	sink := newTestAudioPort(t, sched, pool, "sink", 4)

	require.NoError(t, a.LoadBuffer([]float32{0.1, 0.1, 0.1, 0.1}, true))
	require.NoError(t, b.LoadBuffer([]float32{0.2, 0.2, 0.2, 0.2}, true))
	require.NoError(t, a.Connect(sink))
	require.NoError(t, b.Connect(sink))
	require.NoError(t, a.Connect(sink), "connecting twice is a no-op")
	sched.run()
	assert.Empty(t, sched.errs)

	// Sources processed before the sink deliver in the same cycle.
	require.NoError(t, a.Processor().Process(4))
	require.NoError(t, b.Processor().Process(4))
	require.NoError(t, sink.Processor().Process(4))
	assert.InDeltaSlice(t, []float32{0.3, 0.3, 0.3, 0.3}, sink.Processor().Output(), 1e-6)

	require.NoError(t, b.Disconnect(sink))
	sched.run()
	require.NoError(t, a.Processor().Process(4))
	require.NoError(t, b.Processor().Process(4))
	require.NoError(t, sink.Processor().Process(4))
	assert.InDeltaSlice(t, []float32{0.1, 0.1, 0.1, 0.1}, sink.Processor().Output(), 1e-6)
}

func TestConnectRejectsInvalidPeers(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 6, 2)
	a := newTestAudioPort(t, sched, pool, "a", 2)
	b := newTestAudioPort(t, sched, pool, "b", 2)

	assert.ErrorIs(t, a.Connect(a), ErrIncompatiblePeer)
	assert.ErrorIs(t, a.Connect(nil), ErrIncompatiblePeer)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, a.Connect(b), ErrPortClosed)
}

func TestConnectRejectsPeerWithSmallerBuffers(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 6, 8)
	big := newTestAudioPort(t, sched, pool, "big", 8)
	small := newTestAudioPort(t, sched, pool, "small", 4)

	err := big.Connect(small)
	require.ErrorIs(t, err, ErrIncompatiblePeer)
	assert.Equal(t, 0, sched.run(), "rejected connection must not be queued")

	// A full-size cycle on the source stays safe for the smaller port.
	require.NoError(t, big.LoadBuffer([]float32{0.5}, true))
	sched.run()
	require.NotPanics(t, func() {
		require.NoError(t, big.Processor().Process(8))
	})

	// Mixing into a larger peer is fine.
	require.NoError(t, small.Connect(big))
	sched.run()
	assert.Empty(t, sched.errs)
}

func TestConnectionSlotsAreBounded(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 9, 2)
	cfg := AudioConfig{Name: "src", MaxFrames: 2, MaxConnections: 1}
	src, err := NewAudioPort(cfg, pool, sched)
	require.NoError(t, err)
	cfg.Name = "a"
	a, err := NewAudioPort(cfg, pool, sched)
	require.NoError(t, err)
	cfg.Name = "b"
	b, err := NewAudioPort(cfg, pool, sched)
	require.NoError(t, err)

	require.NoError(t, src.Connect(a))
	require.NoError(t, src.Connect(b))
	sched.run()

	require.Len(t, sched.errs, 1)
	assert.ErrorIs(t, sched.errs[0], ErrTooManyConnections)
}

func TestProcessRejectsOversizedCycle(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	p := newTestAudioPort(t, sched, newTestPool(t, 3, 4), "small", 4)

	err := p.Processor().Process(5)
	require.ErrorIs(t, err, ErrFrameCount)

	p.Processor().Silence(5)
	assert.Empty(t, p.Processor().Output())
}

func TestSilenceDropsPendingInput(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 6, 4)
	src := newTestAudioPort(t, sched, pool, "src", 4)
	sink := newTestAudioPort(t, sched, pool, "sink", 4)
	require.NoError(t, src.LoadBuffer([]float32{0.25}, true))
	require.NoError(t, src.Connect(sink))
	sched.run()

	// The sink fails its cycle twice and is silenced each time.
	for range 2 {
		require.NoError(t, src.Processor().Process(4))
		require.ErrorIs(t, sink.Processor().Process(5), ErrFrameCount)
		sink.Processor().Silence(5)
	}

	// Only the current cycle's delivery reaches the output.
	require.NoError(t, src.Processor().Process(4))
	require.NoError(t, sink.Processor().Process(4))
	assert.InDeltaSlice(t, []float32{0.25, 0.25, 0.25, 0.25}, sink.Processor().Output(), 1e-6)
}

func TestMonitorReceivesOutput(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	p := newTestAudioPort(t, sched, newTestPool(t, 3, 4), "monitored", 4)
	require.NoError(t, p.LoadBuffer([]float32{0.5, 0.25, -0.5, -0.25}, false))
	p.SetGain(0.5)
	sched.run()

	require.NoError(t, p.Processor().Process(4))

	ring, ok := p.Monitor()
	require.True(t, ok)
	assert.Equal(t, 4, ring.Buffered())

	got := make([]float32, 8)
	n := ring.Read(got)
	require.Equal(t, 4, n)
	assert.InDeltaSlice(t, []float32{0.25, 0.125, -0.25, -0.125}, got[:n], 1e-6)
}

func TestCloseReturnsBuffersOnProcessingSide(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 6, 4)
	a := newTestAudioPort(t, sched, pool, "a", 4)
	b := newTestAudioPort(t, sched, pool, "b", 4)
	require.NoError(t, a.Connect(b))
	sched.run()
	assert.Zero(t, pool.Available())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Zero(t, pool.Available(), "buffers stay out until the close command runs")

	sched.run()
	assert.Equal(t, 3, pool.Available())
	assert.Empty(t, a.Processor().peers, "closing detaches the port from its sources")

	require.NoError(t, b.Processor().Process(4))
	assert.Nil(t, b.Processor().Output())
	assert.ErrorIs(t, b.LoadBuffer([]float32{1}, false), ErrPortClosed)
}

func TestCloseWithoutSchedulerReleasesDirectly(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	pool := newTestPool(t, 3, 2)
	p := newTestAudioPort(t, sched, pool, "orphan", 2)

	sched.rcv.Close()
	require.NoError(t, p.Close())
	assert.Equal(t, 3, pool.Available())
}

func TestNewAudioPortErrors(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)

	t.Run("pool exhausted", func(t *testing.T) {
		t.Parallel()
		pool := newTestPool(t, 2, 4)
		_, err := NewAudioPort(AudioConfig{Name: "x", MaxFrames: 4}, pool, sched)
		require.ErrorIs(t, err, bufferpool.ErrExhausted)
		assert.Equal(t, 2, pool.Available(), "partially taken buffers are returned")
	})

	t.Run("buffers too small", func(t *testing.T) {
		t.Parallel()
		pool := newTestPool(t, 3, 2)
		_, err := NewAudioPort(AudioConfig{Name: "x", MaxFrames: 4}, pool, sched)
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.Equal(t, 3, pool.Available())
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		pool := newTestPool(t, 3, 2)
		_, err := NewAudioPort(AudioConfig{Name: "x"}, pool, sched)
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

		_, err = NewAudioPort(AudioConfig{Name: "x", MaxFrames: 2}, nil, sched)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestPortFacets(t *testing.T) {
	t.Parallel()

	sched := newQueueScheduler(t)
	audio := newTestAudioPort(t, sched, newTestPool(t, 3, 2), "audio", 2)
	midiPort, err := NewMIDIPort(MIDIConfig{Name: "midi", MaxEvents: 4}, sched)
	require.NoError(t, err)

	tests := []struct {
		name        string
		port        Port
		kind        Kind
		wantGain    bool
		wantMute    bool
		wantMonitor bool
	}{
		{"audio", audio, KindAudio, true, true, true},
		{"midi", midiPort, KindMIDI, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.port.Kind())
			assert.Equal(t, BackendDummy, tt.port.Backend())
			assert.NotEmpty(t, tt.port.ID())

			_, ok := tt.port.GainControl()
			assert.Equal(t, tt.wantGain, ok)

			mc, ok := tt.port.MuteControl()
			assert.Equal(t, tt.wantMute, ok)
			if ok {
				mc.SetMuted(true)
				assert.True(t, mc.Muted())
			}

			_, ok = tt.port.Monitor()
			assert.Equal(t, tt.wantMonitor, ok)

			ind, ok := tt.port.Indicators()
			require.True(t, ok)
			ind.ResetActivity()
			assert.Zero(t, ind.InputActivity())
			assert.Zero(t, ind.OutputActivity())
		})
	}
}

func TestProcessDoesNotAllocate(t *testing.T) {
	sched := newQueueScheduler(t)
	pool := newTestPool(t, 6, 64)
	src := newTestAudioPort(t, sched, pool, "src", 64)
	sink := newTestAudioPort(t, sched, pool, "sink", 64)
	require.NoError(t, src.LoadBuffer([]float32{0.1, -0.2, 0.3}, true))
	require.NoError(t, src.Connect(sink))
	sched.run()
	require.Empty(t, sched.errs)

	ring, ok := src.Monitor()
	require.True(t, ok)

	// Enough cycles to wrap the monitor ring.
	allocs := testing.AllocsPerRun(100, func() {
		_ = src.Processor().Process(64)
		_ = sink.Processor().Process(64)
	})
	assert.Zero(t, allocs)
	assert.NotZero(t, ring.Dropped())
	assert.InDelta(t, 0.3, sink.OutputPeak(), 1e-6)
}
