// Package port implements audio and MIDI ports: a control-side handle
// paired with a processor that runs on the processing goroutine.
//
// The handle and the processor share a SharedState whose fields are
// independently atomic, so gain, mute and peak metering can be read and
// set from any goroutine at any time. Everything else the processor owns
// (connections, replay buffers) is changed only by commands the handle
// schedules onto the processing goroutine.
//
// Port kinds are a closed set: audio or MIDI, each either a dummy port or
// one backed by a hardware device. Optional capabilities are exposed as
// facets:
//
//	if gc, ok := p.GainControl(); ok {
//	    gc.SetGain(0.5)
//	}
package port

import (
	"slices"

	"github.com/google/uuid"

	"github.com/tphakala/rtcore/internal/bufferpool"
	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// Kind is the signal type a port carries.
type Kind int

const (
	KindAudio Kind = iota
	KindMIDI
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindMIDI:
		return "midi"
	default:
		return "unknown"
	}
}

// Backend says what sits behind a port.
type Backend int

const (
	// BackendDummy ports exist only inside the processing graph.
	BackendDummy Backend = iota
	// BackendHardware ports feed or are fed by a device driver.
	BackendHardware
)

func (b Backend) String() string {
	switch b {
	case BackendDummy:
		return "dummy"
	case BackendHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// Scheduler runs fn on the processing goroutine at the next cycle
// boundary. Errors returned by fn are reported by the scheduler, not to
// the caller of Schedule.
type Scheduler interface {
	Schedule(fn func() error) error
}

// GainControl is implemented by ports with adjustable gain.
type GainControl interface {
	SetGain(gain float32)
	Gain() float32
}

// MuteControl is implemented by ports that can be muted.
type MuteControl interface {
	SetMuted(muted bool)
	Muted() bool
}

// Indicators expose activity levels for metering. Audio ports report
// peaks; MIDI ports report 1 when note-on traffic was seen since the last
// reset.
type Indicators interface {
	InputActivity() float32
	OutputActivity() float32
	ResetActivity()
}

// Port is the control-side view shared by every port kind.
type Port interface {
	ID() string
	Name() string
	Kind() Kind
	Backend() Backend
	Close() error

	GainControl() (GainControl, bool)
	MuteControl() (MuteControl, bool)
	Monitor() (*MonitorRing, bool)
	Indicators() (Indicators, bool)
}

var (
	_ Port = (*AudioPort)(nil)
	_ Port = (*MIDIPort)(nil)
)

// takeBuffers checks out n buffers of at least frames samples.
func takeBuffers(pool *bufferpool.Pool[float32], n, frames int) ([]*bufferpool.Handle[float32], error) {
	handles := make([]*bufferpool.Handle[float32], 0, n)
	for range n {
		h, err := pool.Get()
		if err != nil {
			releaseBuffers(pool, handles)
			return nil, err
		}
		if h.Len() < frames {
			handles = append(handles, h)
			releaseBuffers(pool, handles)
			return nil, errors.New(ErrInvalidConfig).
				Context("buffer_size", h.Len()).
				Context("max_frames", frames).
				Build()
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func releaseBuffers(pool *bufferpool.Pool[float32], handles []*bufferpool.Handle[float32]) {
	for _, h := range handles {
		pool.Release(h)
	}
}

// Option configures a port.
type Option func(*options)

type options struct {
	id  string
	log logger.Logger
}

// WithID overrides the generated port ID.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithLogger sets the logger for control-side port operations.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	return o
}

// link adds to to from's connections. Both slices have fixed capacity and
// are never grown, so linking does not allocate.
func link[P comparable](peers []P, sources []P, to, from P) ([]P, []P, error) {
	if slices.Contains(peers, to) {
		return peers, sources, nil
	}
	if len(peers) == cap(peers) || len(sources) == cap(sources) {
		return peers, sources, ErrTooManyConnections
	}
	return append(peers, to), append(sources, from), nil
}

// remove deletes x from list in place.
func remove[P comparable](list []P, x P) []P {
	if i := slices.Index(list, x); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}
