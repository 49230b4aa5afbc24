package port

import (
	"cmp"
	"slices"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// MIDIEvent is a MIDI message at a frame offset. In a loaded event list
// the offset is relative to the start of the list; in a cycle's output it
// is relative to the start of the cycle.
type MIDIEvent struct {
	Frame   int
	Message midi.Message
}

// MIDIConfig describes a MIDI port.
type MIDIConfig struct {
	Name           string
	Backend        Backend
	MaxEvents      int            // events handled per cycle
	MaxConnections int            // downstream and upstream slots each
	MonitorSize    int            // monitor ring size in bytes, 0 disables it
	OverflowPolicy OverflowPolicy // monitor ring overflow policy
}

func (c MIDIConfig) validate() error {
	if c.MaxEvents <= 0 || c.MaxConnections < 0 || c.MonitorSize < 0 {
		return errors.New(ErrInvalidConfig).
			Context("port", c.Name).
			Context("max_events", c.MaxEvents).
			Context("max_connections", c.MaxConnections).
			Context("monitor_size", c.MonitorSize).
			Build()
	}
	return nil
}

// maxMIDIMessage bounds a single monitor write; sysex longer than this is
// truncated in the monitor only.
const maxMIDIMessage = 256

type midiState struct {
	muted     atomic.Bool
	inActive  atomic.Bool
	outActive atomic.Bool
	noteOns   atomic.Uint64
	dropped   atomic.Uint64
}

// MIDIProcessor is the processing-goroutine half of a MIDI port.
type MIDIProcessor struct {
	id    string
	state *midiState

	events []MIDIEvent
	length int
	loop   bool
	cursor int
	next   int

	pending []MIDIEvent
	cycle   []MIDIEvent
	out     []MIDIEvent

	peers   []*MIDIProcessor
	sources []*MIDIProcessor
	monitor *MonitorRing
	closed  bool
}

// ID returns the owning port's ID.
func (p *MIDIProcessor) ID() string {
	return p.id
}

// Process collects this cycle's events: loaded events whose frame falls in
// the cycle, then events delivered by connected sources. Muted ports drop
// them; otherwise they are forwarded to peers and the monitor ring.
func (p *MIDIProcessor) Process(nFrames int) error {
	if p.closed {
		return nil
	}
	if nFrames < 0 {
		return ErrFrameCount
	}

	cycle := p.cycle[:0]
	cycle = p.readTimeline(cycle, nFrames)
	for _, ev := range p.pending {
		cycle = p.appendEvent(cycle, ev)
	}
	p.pending = p.pending[:0]

	if noteOnIn(cycle) {
		p.state.inActive.Store(true)
	}

	if p.state.muted.Load() {
		p.state.dropped.Add(uint64(len(cycle)))
		p.out = cycle[:0]
		return nil
	}

	for _, peer := range p.peers {
		for _, ev := range cycle {
			if len(peer.pending) == cap(peer.pending) {
				peer.state.dropped.Add(1)
				continue
			}
			peer.pending = append(peer.pending, ev)
		}
	}
	if p.monitor != nil {
		for _, ev := range cycle {
			msg := ev.Message
			if len(msg) > maxMIDIMessage {
				msg = msg[:maxMIDIMessage]
			}
			p.monitor.WriteBytes(msg)
		}
	}
	if n := countNoteOns(cycle); n > 0 {
		p.state.outActive.Store(true)
		p.state.noteOns.Add(n)
	}
	p.out = cycle
	return nil
}

// readTimeline appends loaded events that fall inside the next nFrames.
// A looping list wraps at length inside the cycle, as often as needed.
func (p *MIDIProcessor) readTimeline(cycle []MIDIEvent, nFrames int) []MIDIEvent {
	if len(p.events) == 0 {
		return cycle
	}
	// offset is where p.cursor sits relative to the start of the cycle.
	offset := 0
	for offset < nFrames {
		end := p.cursor + nFrames - offset
		if p.loop {
			end = min(end, p.length)
		}
		for p.next < len(p.events) && p.events[p.next].Frame < end {
			ev := p.events[p.next]
			ev.Frame = offset + max(ev.Frame-p.cursor, 0)
			cycle = p.appendEvent(cycle, ev)
			p.next++
		}
		offset += end - p.cursor
		p.cursor = end
		if !p.loop {
			break
		}
		if p.cursor >= p.length {
			p.cursor = 0
			p.next = 0
		}
	}
	return cycle
}

func (p *MIDIProcessor) appendEvent(cycle []MIDIEvent, ev MIDIEvent) []MIDIEvent {
	if len(cycle) == cap(cycle) {
		p.state.dropped.Add(1)
		return cycle
	}
	return append(cycle, ev)
}

// noteOnIn reports whether any event is a note-on with non-zero velocity.
func noteOnIn(events []MIDIEvent) bool {
	var ch, key, vel uint8
	for _, ev := range events {
		if ev.Message.GetNoteStart(&ch, &key, &vel) {
			return true
		}
	}
	return false
}

func countNoteOns(events []MIDIEvent) uint64 {
	var ch, key, vel uint8
	var n uint64
	for _, ev := range events {
		if ev.Message.GetNoteStart(&ch, &key, &vel) {
			n++
		}
	}
	return n
}

// Silence drops the current cycle's events.
func (p *MIDIProcessor) Silence(int) {
	p.out = p.out[:0]
	p.pending = p.pending[:0]
}

// Events returns the events produced by the last cycle. The slice is
// reused and only valid on the processing goroutine until the next cycle.
func (p *MIDIProcessor) Events() []MIDIEvent {
	return p.out
}

func (p *MIDIProcessor) detach() {
	for _, src := range p.sources {
		src.peers = remove(src.peers, p)
	}
	for _, peer := range p.peers {
		peer.sources = remove(peer.sources, p)
	}
	p.sources = p.sources[:0]
	p.peers = p.peers[:0]
	p.events = nil
	p.pending = p.pending[:0]
	p.out = nil
	p.closed = true
}

// MIDIPort is the control-side handle of a MIDI port.
type MIDIPort struct {
	id      string
	name    string
	backend Backend
	state   *midiState
	proc    *MIDIProcessor
	sched   Scheduler
	log     logger.Logger
	closed  atomic.Bool
}

// NewMIDIPort creates a MIDI port. All per-cycle event storage is
// allocated here.
func NewMIDIPort(cfg MIDIConfig, sched Scheduler, opts ...Option) (*MIDIPort, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, errors.New(ErrInvalidConfig).
			Context("port", cfg.Name).
			Context("reason", "scheduler is required").
			Build()
	}
	o := buildOptions(opts)

	var monitor *MonitorRing
	if cfg.MonitorSize > 0 {
		var err error
		monitor, err = NewByteMonitorRing(cfg.MonitorSize, maxMIDIMessage, cfg.OverflowPolicy)
		if err != nil {
			return nil, err
		}
	}

	state := &midiState{}
	proc := &MIDIProcessor{
		id:      o.id,
		state:   state,
		pending: make([]MIDIEvent, 0, cfg.MaxEvents),
		cycle:   make([]MIDIEvent, 0, cfg.MaxEvents),
		peers:   make([]*MIDIProcessor, 0, cfg.MaxConnections),
		sources: make([]*MIDIProcessor, 0, cfg.MaxConnections),
		monitor: monitor,
	}

	p := &MIDIPort{
		id:      o.id,
		name:    cfg.Name,
		backend: cfg.Backend,
		state:   state,
		proc:    proc,
		sched:   sched,
		log: o.log.Module("port").With(
			logger.String("port_id", o.id),
			logger.String("port_name", cfg.Name)),
	}
	p.log.Debug("midi port created",
		logger.String("backend", cfg.Backend.String()),
		logger.Int("max_events", cfg.MaxEvents))
	return p, nil
}

func (p *MIDIPort) ID() string       { return p.id }
func (p *MIDIPort) Name() string     { return p.name }
func (p *MIDIPort) Kind() Kind       { return KindMIDI }
func (p *MIDIPort) Backend() Backend { return p.backend }

// Processor returns the unit to register with the host.
func (p *MIDIPort) Processor() *MIDIProcessor {
	return p.proc
}

func (p *MIDIPort) SetMuted(muted bool) { p.state.muted.Store(muted) }
func (p *MIDIPort) Muted() bool         { return p.state.muted.Load() }

// NoteOns returns the number of note-on events the port has passed on.
func (p *MIDIPort) NoteOns() uint64 {
	return p.state.noteOns.Load()
}

// Dropped returns the number of events lost to full event slots or mute.
func (p *MIDIPort) Dropped() uint64 {
	return p.state.dropped.Load()
}

// InputActivity is 1 when a note-on arrived since the last reset.
func (p *MIDIPort) InputActivity() float32 {
	return activity(p.state.inActive.Load())
}

// OutputActivity is 1 when a note-on was passed on since the last reset.
func (p *MIDIPort) OutputActivity() float32 {
	return activity(p.state.outActive.Load())
}

// ResetActivity clears both activity indicators.
func (p *MIDIPort) ResetActivity() {
	p.state.inActive.Store(false)
	p.state.outActive.Store(false)
}

func activity(active bool) float32 {
	if active {
		return 1
	}
	return 0
}

func (p *MIDIPort) GainControl() (GainControl, bool) { return nil, false }
func (p *MIDIPort) MuteControl() (MuteControl, bool) { return p, true }
func (p *MIDIPort) Indicators() (Indicators, bool)   { return p, true }

func (p *MIDIPort) Monitor() (*MonitorRing, bool) {
	return p.proc.monitor, p.proc.monitor != nil
}

// Connect routes this port's events to peer.
func (p *MIDIPort) Connect(peer *MIDIPort) error {
	if err := p.checkPeer(peer); err != nil {
		return err
	}
	from, to := p.proc, peer.proc
	return p.schedule("connect", func() error {
		if from.closed || to.closed {
			return ErrPortClosed
		}
		var err error
		from.peers, to.sources, err = link(from.peers, to.sources, to, from)
		return err
	})
}

// Disconnect removes a connection made by Connect.
func (p *MIDIPort) Disconnect(peer *MIDIPort) error {
	if err := p.checkPeer(peer); err != nil {
		return err
	}
	from, to := p.proc, peer.proc
	return p.schedule("disconnect", func() error {
		from.peers = remove(from.peers, to)
		to.sources = remove(to.sources, from)
		return nil
	})
}

// LoadEvents queues an event list for replay. Events are copied and sorted
// by frame. length is the list duration in frames; it is extended to cover
// the last event. A looping list restarts after length frames.
func (p *MIDIPort) LoadEvents(events []MIDIEvent, length int, loop bool) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	list := make([]MIDIEvent, len(events))
	for i, ev := range events {
		list[i] = MIDIEvent{Frame: max(ev.Frame, 0), Message: slices.Clone(ev.Message)}
	}
	slices.SortStableFunc(list, func(a, b MIDIEvent) int {
		return cmp.Compare(a.Frame, b.Frame)
	})
	if n := len(list); n > 0 {
		length = max(length, list[n-1].Frame+1)
	}
	length = max(length, 1)

	proc := p.proc
	return p.schedule("load_events", func() error {
		proc.events = list
		proc.length = length
		proc.loop = loop
		proc.cursor = 0
		proc.next = 0
		return nil
	})
}

// Replay rewinds the loaded event list.
func (p *MIDIPort) Replay() error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	proc := p.proc
	return p.schedule("replay", func() error {
		proc.cursor = 0
		proc.next = 0
		return nil
	})
}

// ClearEvents drops the loaded event list.
func (p *MIDIPort) ClearEvents() error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	proc := p.proc
	return p.schedule("clear_events", func() error {
		proc.events = nil
		proc.cursor = 0
		proc.next = 0
		return nil
	})
}

// Close disconnects the port on the processing goroutine.
func (p *MIDIPort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	proc := p.proc
	if err := p.sched.Schedule(func() error {
		proc.detach()
		return nil
	}); err != nil {
		proc.detach()
	}
	p.log.Debug("midi port closed")
	return nil
}

func (p *MIDIPort) checkPeer(peer *MIDIPort) error {
	if p.closed.Load() || (peer != nil && peer.closed.Load()) {
		return ErrPortClosed
	}
	if peer == nil || peer == p {
		return errors.New(ErrIncompatiblePeer).
			Context("port", p.name).
			Build()
	}
	return nil
}

func (p *MIDIPort) schedule(op string, fn func() error) error {
	if err := p.sched.Schedule(fn); err != nil {
		return errors.New(err).
			Component(ComponentPort).
			Context("operation", op).
			Context("port", p.name).
			Build()
	}
	return nil
}
