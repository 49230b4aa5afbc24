package port

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedStateDefaults(t *testing.T) {
	t.Parallel()

	s := NewSharedState()
	assert.InDelta(t, 1.0, s.Gain(), 0)
	assert.False(t, s.Muted())
	assert.Zero(t, s.InputPeak())
	assert.Zero(t, s.OutputPeak())
}

func TestResetInputPeakAlwaysYieldsZero(t *testing.T) {
	t.Parallel()

	s := NewSharedState()
	processSamples(s, []float32{0.3, -0.9, 0.1}, make([]float32, 3))
	assert.InDelta(t, 0.9, s.InputPeak(), 1e-6)

	s.ResetInputPeak()
	assert.Zero(t, s.InputPeak())
	s.ResetOutputPeak()
	assert.Zero(t, s.OutputPeak())
}

func TestMuteLaw(t *testing.T) {
	t.Parallel()

	in := []float32{0.5, -0.25, 1, -1, 0}
	for _, gain := range []float32{0, 0.5, 1, 2, -1} {
		s := NewSharedState()
		s.SetGain(gain)

		s.SetMuted(true)
		out := make([]float32, len(in))
		processSamples(s, in, out)
		for _, v := range out {
			assert.Zero(t, v, "muted output must be zero for gain %v", gain)
		}

		s.SetMuted(false)
		processSamples(s, in, out)
		for i, v := range out {
			assert.InDelta(t, in[i]*gain, v, 1e-6)
		}
	}
}

func TestPeakLaw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float32
		gain float32
		want float32
	}{
		{"positive max", []float32{0.1, 0.7, -0.2}, 1, 0.7},
		{"negative max uses absolute value", []float32{0.1, -0.8, 0.2}, 0.5, 0.8},
		{"silence", []float32{0, 0, 0}, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSharedState()
			s.SetGain(tt.gain)
			processSamples(s, tt.in, make([]float32, len(tt.in)))

			assert.InDelta(t, tt.want, s.InputPeak(), 1e-6)
			assert.GreaterOrEqual(t, s.OutputPeak(), tt.want*tt.gain-1e-6)
		})
	}
}

func TestOutputPeakNeverDecreases(t *testing.T) {
	t.Parallel()

	s := NewSharedState()
	processSamples(s, []float32{0.9}, make([]float32, 1))
	s.ResetInputPeak()
	processSamples(s, []float32{0.1}, make([]float32, 1))

	assert.InDelta(t, 0.1, s.InputPeak(), 1e-6)
	assert.InDelta(t, 0.9, s.OutputPeak(), 1e-6, "fetch-max keeps the higher prior peak")
}

func TestFetchMaxConcurrent(t *testing.T) {
	t.Parallel()

	var f atomicFloat32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			for j := range 100 {
				f.FetchMax(float32(i*100 + j))
			}
		})
	}
	wg.Wait()
	assert.InDelta(t, 4999, f.Load(), 0)
}
