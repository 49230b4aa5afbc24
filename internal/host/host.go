// Package host runs the processing loop: each cycle drains queued commands
// and then calls every registered unit.
//
// Control goroutines never touch the unit graph directly. They send
// commands through a Sender; the processing goroutine applies them at the
// start of the next cycle, so every change to the graph and to unit state
// is single-threaded. A unit that fails is silenced for the cycle and the
// failure is handed to a control-side reporter through a preallocated
// channel. A panic on the processing goroutine is fatal.
//
// The loop is driven either by Run/Start, which sleep ProcessInterval
// between cycles, or by an external callback calling Cycle directly.
package host

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/rtcore/internal/command"
	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
	"github.com/tphakala/rtcore/internal/telemetry"
)

// Failure describes a unit error or a failed command, recorded on the
// processing goroutine.
type Failure struct {
	Unit   Unit // nil for command failures
	Err    error
	Cycle  uint64
	Frames int
}

// Stats is a snapshot of host counters.
type Stats struct {
	Cycles          uint64
	CommandsApplied uint64
	CommandErrors   uint64
	UnitFailures    uint64
	DroppedReports  uint64
	Units           int
	PendingCommands int
}

type counters struct {
	cycles          atomic.Uint64
	commandsApplied atomic.Uint64
	commandErrors   atomic.Uint64
	unitFailures    atomic.Uint64
	droppedReports  atomic.Uint64
	units           atomic.Int64
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used by control-side goroutines.
func WithLogger(l logger.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// WithReporter sets the telemetry reporter for failures and fatal panics.
func WithReporter(r telemetry.Reporter) Option {
	return func(h *Host) {
		if r != nil {
			h.reporter = r
		}
	}
}

// WithFatalHandler replaces the handler invoked when a cycle panics.
func WithFatalHandler(f FatalHandler) Option {
	return func(h *Host) {
		if f != nil {
			h.fatal = f
		}
	}
}

// WithFailureObserver registers fn to receive every processing failure on
// the reporter goroutine.
func WithFailureObserver(fn func(error)) Option {
	return func(h *Host) {
		h.observer = fn
	}
}

// WithLogLimit sets how many failure log lines per second are written.
// Failures beyond the limit are still counted and reported.
func WithLogLimit(perSecond float64, burst int) Option {
	return func(h *Host) {
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithID overrides the generated host ID.
func WithID(id string) Option {
	return func(h *Host) {
		if id != "" {
			h.id = id
		}
	}
}

// Host owns the receiving end of the command queue and the unit graph.
type Host struct {
	id  string
	cfg Config

	sender   *command.Sender[Graph]
	receiver *command.Receiver[Graph]
	graph    Graph

	failures     chan Failure
	onCommandErr func(error)
	cycle        uint64
	frames       int

	log      logger.Logger
	reporter telemetry.Reporter
	fatal    FatalHandler
	observer func(error)
	limiter  *rate.Limiter

	stats counters

	mu      sync.Mutex
	running bool
	stop    func()
	done    chan struct{}

	reporterStop chan struct{}
	reporterDone chan struct{}
	closeOnce    sync.Once
	closed       atomic.Bool
}

// New validates cfg, preallocates the graph and failure channel, and
// starts the failure reporter goroutine. Call Close to release it.
func New(cfg Config, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	snd, rcv := command.New[Graph]()
	h := &Host{
		id:           uuid.NewString(),
		cfg:          cfg,
		sender:       snd,
		receiver:     rcv,
		graph:        newGraph(cfg.MaxUnits),
		failures:     make(chan Failure, cfg.FailureQueueSize),
		log:          logger.Discard(),
		reporter:     telemetry.Nop{},
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		reporterStop: make(chan struct{}),
		reporterDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Module("host").With(logger.String("host_id", h.id))
	if h.fatal == nil {
		h.fatal = h.defaultFatal
	}
	h.onCommandErr = h.commandFailed

	go h.reportLoop()

	h.log.Info("host created",
		logger.Duration("process_interval", cfg.ProcessInterval),
		logger.Int("frames_per_iteration", cfg.FramesPerIteration),
		logger.Int("max_frames", cfg.MaxFrames),
		logger.Int("command_budget", cfg.CommandBudget),
		logger.Int("max_units", cfg.MaxUnits))
	return h, nil
}

// ID returns the host ID.
func (h *Host) ID() string {
	return h.id
}

// Config returns the host configuration.
func (h *Host) Config() Config {
	return h.cfg
}

// Sender returns an independent sender for the host queue. The caller
// should Close it when done.
func (h *Host) Sender() *command.Sender[Graph] {
	return h.sender.Clone()
}

// Schedule queues fn to run on the processing goroutine before the next
// cycle. Errors returned by fn are counted and reported.
func (h *Host) Schedule(fn func() error) error {
	return h.sender.Send(func(*Graph) error {
		return fn()
	})
}

// Register queues u to be added to the graph. If the graph is full the
// command fails with ErrExhausted, which is reported like any command error;
// use WaitProcess and Stats to confirm registration.
func (h *Host) Register(u Unit) error {
	if u == nil {
		return errors.New(ErrInvalidConfig).
			Context("reason", "nil unit").
			Build()
	}
	return h.sender.Send(func(g *Graph) error {
		if err := g.add(u); err != nil {
			return err
		}
		h.stats.units.Store(int64(g.Len()))
		return nil
	})
}

// Unregister queues u to be removed from the graph.
func (h *Host) Unregister(u Unit) error {
	return h.sender.Send(func(g *Graph) error {
		g.remove(u)
		h.stats.units.Store(int64(g.Len()))
		return nil
	})
}

// WaitProcess blocks until every command sent before the call was applied.
func (h *Host) WaitProcess(timeout time.Duration) error {
	return h.sender.WaitProcess(timeout)
}

// Cycle drains queued commands within the budget and then processes every
// unit for nFrames. It never blocks and does not allocate on its own.
// Call it from exactly one goroutine at a time.
func (h *Host) Cycle(nFrames int) {
	defer func() {
		if r := recover(); r != nil {
			h.fatal(r, debug.Stack())
		}
	}()

	applied := h.receiver.Drain(&h.graph, h.cfg.CommandBudget, h.onCommandErr)
	h.stats.commandsApplied.Add(uint64(applied))

	h.cycle = h.stats.cycles.Add(1)
	h.frames = nFrames
	for _, u := range h.graph.units {
		if err := u.Process(nFrames); err != nil {
			u.Silence(nFrames)
			h.stats.unitFailures.Add(1)
			h.pushFailure(Failure{Unit: u, Err: err, Cycle: h.cycle, Frames: nFrames})
		}
	}
}

func (h *Host) commandFailed(err error) {
	h.stats.commandErrors.Add(1)
	h.pushFailure(Failure{Err: err, Cycle: h.cycle})
}

// pushFailure hands f to the reporter without blocking.
func (h *Host) pushFailure(f Failure) {
	select {
	case h.failures <- f:
	default:
		h.stats.droppedReports.Add(1)
	}
}

// Stats returns a snapshot of the host counters.
func (h *Host) Stats() Stats {
	return Stats{
		Cycles:          h.stats.cycles.Load(),
		CommandsApplied: h.stats.commandsApplied.Load(),
		CommandErrors:   h.stats.commandErrors.Load(),
		UnitFailures:    h.stats.unitFailures.Load(),
		DroppedReports:  h.stats.droppedReports.Load(),
		Units:           int(h.stats.units.Load()),
		PendingCommands: h.sender.Pending(),
	}
}

// Close stops the driver, closes the command queue and stops the reporter
// after it has handled queued failures. Safe to call more than once.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.Stop()
		h.closed.Store(true)
		h.receiver.Close()
		h.sender.Close()
		close(h.reporterStop)
		<-h.reporterDone
		st := h.Stats()
		h.log.Info("host closed",
			logger.Uint64("cycles", st.Cycles),
			logger.Uint64("commands_applied", st.CommandsApplied),
			logger.Uint64("unit_failures", st.UnitFailures),
			logger.Uint64("dropped_reports", st.DroppedReports))
	})
	return nil
}
