package port

import (
	"math"
	"sync/atomic"
)

// atomicFloat32 stores a float32 as its IEEE-754 bits.
type atomicFloat32 struct {
	bits atomic.Uint32
}

func (f *atomicFloat32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

func (f *atomicFloat32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}

// FetchMax stores v if it is greater than the current value and returns the
// previous value.
func (f *atomicFloat32) FetchMax(v float32) float32 {
	for {
		old := f.bits.Load()
		cur := math.Float32frombits(old)
		if !(v > cur) {
			return cur
		}
		if f.bits.CompareAndSwap(old, math.Float32bits(v)) {
			return cur
		}
	}
}

// SharedState holds the per-port values read and written by both the
// control side and the processing goroutine. Each field is independently
// atomic; a reader may observe a new gain together with a stale peak.
// All methods are wait-free.
type SharedState struct {
	gain       atomicFloat32
	muted      atomic.Bool
	inputPeak  atomicFloat32
	outputPeak atomicFloat32
}

// NewSharedState returns state with unity gain, unmuted and zero peaks.
func NewSharedState() *SharedState {
	s := &SharedState{}
	s.gain.Store(1)
	return s
}

// SetGain sets the linear gain applied to unmuted samples.
func (s *SharedState) SetGain(gain float32) {
	s.gain.Store(gain)
}

// Gain returns the linear gain.
func (s *SharedState) Gain() float32 {
	return s.gain.Load()
}

// SetMuted mutes or unmutes the port output.
func (s *SharedState) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// Muted reports whether the port output is muted.
func (s *SharedState) Muted() bool {
	return s.muted.Load()
}

// InputPeak returns the largest absolute input sample since the last reset.
func (s *SharedState) InputPeak() float32 {
	return s.inputPeak.Load()
}

// ResetInputPeak sets the input peak to zero.
func (s *SharedState) ResetInputPeak() {
	s.inputPeak.Store(0)
}

// OutputPeak returns the largest output peak since the last reset.
func (s *SharedState) OutputPeak() float32 {
	return s.outputPeak.Load()
}

// ResetOutputPeak sets the output peak to zero.
func (s *SharedState) ResetOutputPeak() {
	s.outputPeak.Store(0)
}
