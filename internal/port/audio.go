package port

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/tphakala/rtcore/internal/bufferpool"
	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// AudioConfig describes an audio port.
type AudioConfig struct {
	Name           string
	Backend        Backend
	MaxFrames      int            // largest cycle the port buffers hold
	MaxConnections int            // downstream and upstream slots each
	MonitorSize    int            // monitor ring size in samples, 0 disables it
	OverflowPolicy OverflowPolicy // monitor ring overflow policy
}

func (c AudioConfig) validate() error {
	if c.MaxFrames <= 0 || c.MaxConnections < 0 || c.MonitorSize < 0 {
		return errors.New(ErrInvalidConfig).
			Context("port", c.Name).
			Context("max_frames", c.MaxFrames).
			Context("max_connections", c.MaxConnections).
			Context("monitor_size", c.MonitorSize).
			Build()
	}
	return nil
}

// AudioProcessor is the processing-goroutine half of an audio port. Its
// buffers come from a sample pool; everything except SharedState is owned
// by the processing goroutine.
type AudioProcessor struct {
	id        string
	state     *SharedState
	maxFrames int

	pool    *bufferpool.Pool[float32]
	handles []*bufferpool.Handle[float32]
	input   []float32
	pending []float32
	output  []float32
	frames  int

	replay    []float32
	replayPos int
	loop      bool

	peers   []*AudioProcessor
	sources []*AudioProcessor
	monitor *MonitorRing
	closed  bool
}

// ID returns the owning port's ID.
func (p *AudioProcessor) ID() string {
	return p.id
}

// Process runs one cycle of nFrames. The input is the next chunk of the
// replay buffer, if any, plus whatever connected sources delivered since
// the previous cycle. Sources registered ahead of this processor deliver
// in the same cycle, later ones in the next.
func (p *AudioProcessor) Process(nFrames int) error {
	if p.closed {
		return nil
	}
	if nFrames < 0 || nFrames > p.maxFrames {
		return ErrFrameCount
	}

	in := p.input[:nFrames]
	out := p.output[:nFrames]
	pending := p.pending[:nFrames]

	p.readReplay(in)
	for i := range in {
		in[i] += pending[i]
	}
	clear(pending)

	processSamples(p.state, in, out)
	p.frames = nFrames

	if p.monitor != nil {
		p.monitor.WriteSamples(out)
	}
	for _, peer := range p.peers {
		mix := peer.pending[:nFrames]
		for i, s := range out {
			mix[i] += s
		}
	}
	return nil
}

// Silence zeroes the output of the current cycle and drops whatever
// sources delivered for it.
func (p *AudioProcessor) Silence(nFrames int) {
	if p.closed {
		return
	}
	clear(p.output[:min(max(nFrames, 0), p.maxFrames)])
	clear(p.pending)
	p.frames = 0
}

// Output returns the samples produced by the last cycle. The slice is
// reused and only valid on the processing goroutine until the next cycle.
func (p *AudioProcessor) Output() []float32 {
	if p.closed {
		return nil
	}
	return p.output[:p.frames]
}

func (p *AudioProcessor) readReplay(in []float32) {
	n := 0
	for n < len(in) && len(p.replay) > 0 {
		if p.replayPos >= len(p.replay) {
			if !p.loop {
				break
			}
			p.replayPos = 0
		}
		c := copy(in[n:], p.replay[p.replayPos:])
		n += c
		p.replayPos += c
	}
	clear(in[n:])
}

// processSamples applies mute and gain and updates the peaks.
func processSamples(s *SharedState, in, out []float32) {
	muted := s.muted.Load()
	gain := s.gain.Load()
	peak := s.inputPeak.Load()

	for i, x := range in {
		if a := abs32(x); a > peak {
			peak = a
		}
		if muted {
			out[i] = 0
		} else {
			out[i] = x * gain
		}
	}

	s.inputPeak.Store(peak)
	s.outputPeak.FetchMax(abs32(peak * gain))
}

func abs32(x float32) float32 {
	return math.Float32frombits(math.Float32bits(x) &^ (1 << 31))
}

func (p *AudioProcessor) detach() {
	for _, src := range p.sources {
		src.peers = remove(src.peers, p)
	}
	for _, peer := range p.peers {
		peer.sources = remove(peer.sources, p)
	}
	p.sources = p.sources[:0]
	p.peers = p.peers[:0]
	p.replay = nil
	p.closed = true
	releaseBuffers(p.pool, p.handles)
	p.handles = nil
	p.input, p.pending, p.output = nil, nil, nil
}

// AudioPort is the control-side handle of an audio port. Gain, mute and
// peak methods are wait-free atomics; topology and replay changes are
// scheduled onto the processing goroutine.
type AudioPort struct {
	id      string
	name    string
	backend Backend
	state   *SharedState
	proc    *AudioProcessor
	sched   Scheduler
	log     logger.Logger
	closed  atomic.Bool
}

// NewAudioPort creates an audio port whose buffers are checked out of pool.
// The returned port's Processor must be registered with the host that
// drains sched.
func NewAudioPort(cfg AudioConfig, pool *bufferpool.Pool[float32], sched Scheduler, opts ...Option) (*AudioPort, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if pool == nil || sched == nil {
		return nil, errors.New(ErrInvalidConfig).
			Context("port", cfg.Name).
			Context("reason", "pool and scheduler are required").
			Build()
	}
	o := buildOptions(opts)

	handles, err := takeBuffers(pool, 3, cfg.MaxFrames)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPort).
			Context("port", cfg.Name).
			Build()
	}

	var monitor *MonitorRing
	if cfg.MonitorSize > 0 {
		monitor, err = NewMonitorRing(cfg.MonitorSize, cfg.MaxFrames, cfg.OverflowPolicy)
		if err != nil {
			releaseBuffers(pool, handles)
			return nil, err
		}
	}

	state := NewSharedState()
	proc := &AudioProcessor{
		id:        o.id,
		state:     state,
		maxFrames: cfg.MaxFrames,
		pool:      pool,
		handles:   handles,
		input:     handles[0].Data()[:cfg.MaxFrames],
		pending:   handles[1].Data()[:cfg.MaxFrames],
		output:    handles[2].Data()[:cfg.MaxFrames],
		peers:     make([]*AudioProcessor, 0, cfg.MaxConnections),
		sources:   make([]*AudioProcessor, 0, cfg.MaxConnections),
		monitor:   monitor,
	}
	// Pooled buffers keep stale contents.
	clear(proc.input)
	clear(proc.pending)
	clear(proc.output)

	p := &AudioPort{
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
	p.log.Debug("audio port created",
		logger.String("backend", cfg.Backend.String()),
		logger.Int("max_frames", cfg.MaxFrames),
		logger.Int("monitor_size", cfg.MonitorSize))
	return p, nil
}

func (p *AudioPort) ID() string       { return p.id }
func (p *AudioPort) Name() string     { return p.name }
func (p *AudioPort) Kind() Kind       { return KindAudio }
func (p *AudioPort) Backend() Backend { return p.backend }

// Processor returns the unit to register with the host.
func (p *AudioPort) Processor() *AudioProcessor {
	return p.proc
}

// State returns the shared atomic state.
func (p *AudioPort) State() *SharedState {
	return p.state
}

func (p *AudioPort) SetGain(gain float32) { p.state.SetGain(gain) }
func (p *AudioPort) Gain() float32        { return p.state.Gain() }
func (p *AudioPort) SetMuted(muted bool)  { p.state.SetMuted(muted) }
func (p *AudioPort) Muted() bool          { return p.state.Muted() }
func (p *AudioPort) InputPeak() float32   { return p.state.InputPeak() }
func (p *AudioPort) OutputPeak() float32  { return p.state.OutputPeak() }
func (p *AudioPort) ResetInputPeak()      { p.state.ResetInputPeak() }
func (p *AudioPort) ResetOutputPeak()     { p.state.ResetOutputPeak() }

// InputActivity returns the input peak.
func (p *AudioPort) InputActivity() float32 { return p.state.InputPeak() }

// OutputActivity returns the output peak.
func (p *AudioPort) OutputActivity() float32 { return p.state.OutputPeak() }

// ResetActivity resets both peaks.
func (p *AudioPort) ResetActivity() {
	p.state.ResetInputPeak()
	p.state.ResetOutputPeak()
}

func (p *AudioPort) GainControl() (GainControl, bool) { return p, true }
func (p *AudioPort) MuteControl() (MuteControl, bool) { return p, true }
func (p *AudioPort) Indicators() (Indicators, bool)   { return p, true }

func (p *AudioPort) Monitor() (*MonitorRing, bool) {
	return p.proc.monitor, p.proc.monitor != nil
}

// Connect routes this port's output into peer's input.
func (p *AudioPort) Connect(peer *AudioPort) error {
	if err := p.checkPeer(peer); err != nil {
		return err
	}
	// The peer's pending buffer must hold every cycle this port can run.
	if peer.proc.maxFrames < p.proc.maxFrames {
		return errors.New(ErrIncompatiblePeer).
			Context("port", p.name).
			Context("peer", peer.name).
			Context("max_frames", p.proc.maxFrames).
			Context("peer_max_frames", peer.proc.maxFrames).
			Build()
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

// Disconnect removes a connection made by Connect. Removing a connection
// that does not exist is not an error.
func (p *AudioPort) Disconnect(peer *AudioPort) error {
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

// LoadBuffer copies samples and queues them as the replay input. A looping
// buffer restarts when exhausted; a one-shot buffer is followed by silence.
func (p *AudioPort) LoadBuffer(samples []float32, loop bool) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	return p.loadOwned(slices.Clone(samples), loop)
}

// loadOwned queues buf without copying it.
func (p *AudioPort) loadOwned(buf []float32, loop bool) error {
	proc := p.proc
	return p.schedule("load_buffer", func() error {
		proc.replay = buf
		proc.replayPos = 0
		proc.loop = loop
		return nil
	})
}

// Replay rewinds the loaded replay buffer.
func (p *AudioPort) Replay() error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	proc := p.proc
	return p.schedule("replay", func() error {
		proc.replayPos = 0
		return nil
	})
}

// ClearBuffer drops the loaded replay buffer.
func (p *AudioPort) ClearBuffer() error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	proc := p.proc
	return p.schedule("clear_buffer", func() error {
		proc.replay = nil
		proc.replayPos = 0
		return nil
	})
}

// Close disconnects the port and returns its buffers to the pool on the
// processing goroutine. If the scheduler no longer accepts commands the
// processing goroutine is gone and the buffers are released directly.
// The processor should be unregistered from the host before Close.
func (p *AudioPort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	proc := p.proc
	err := p.sched.Schedule(func() error {
		proc.detach()
		return nil
	})
	if err != nil {
		p.log.Debug("scheduler unavailable, releasing port buffers directly", logger.Error(err))
		proc.detach()
	}
	p.log.Debug("audio port closed")
	return nil
}

func (p *AudioPort) checkPeer(peer *AudioPort) error {
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

func (p *AudioPort) schedule(op string, fn func() error) error {
	if err := p.sched.Schedule(fn); err != nil {
		return errors.New(err).
			Component(ComponentPort).
			Context("operation", op).
			Context("port", p.name).
			Build()
	}
	return nil
}
