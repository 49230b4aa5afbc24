// Package app assembles a running rtcore instance from Settings: logging,
// error reporting, the shared sample pool, the host with its ports and
// engine units, and the metrics sampler and endpoint.
//
// Audio ports are chained, each feeding the next, and the last one is the
// output a device driver plays. Every audio port is paired with an engine
// unit so the external engine boundary runs in the same graph.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/rtcore/internal/bufferpool"
	"github.com/tphakala/rtcore/internal/buildinfo"
	"github.com/tphakala/rtcore/internal/conf"
	"github.com/tphakala/rtcore/internal/cpuspec"
	"github.com/tphakala/rtcore/internal/engine"
	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/host"
	"github.com/tphakala/rtcore/internal/logger"
	"github.com/tphakala/rtcore/internal/observability"
	"github.com/tphakala/rtcore/internal/port"
	"github.com/tphakala/rtcore/internal/telemetry"
)

// ComponentApp is the error component for this package.
const ComponentApp = "app"

const (
	registrationTimeout = 2 * time.Second
	statusInterval      = 30 * time.Second
	reporterFlush       = 2 * time.Second
)

// ErrInvalidSettings is returned when New gets no settings.
var ErrInvalidSettings = errors.Newf("settings are required").
	Component(ComponentApp).
	Category(errors.CategoryValidation).
	Build()

// Device is a callback driver that runs host cycles while started.
type Device interface {
	Start() error
	Stop() error
}

// Option configures an App.
type Option func(*App)

// WithLogger replaces the logger built from settings. The caller keeps
// ownership of its outputs.
func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		a.log = l
	}
}

// WithReporter replaces the reporter built from telemetry settings.
func WithReporter(r telemetry.Reporter) Option {
	return func(a *App) {
		a.reporter = r
	}
}

// WithFatalHandler replaces the host's fatal panic handler.
func WithFatalHandler(f host.FatalHandler) Option {
	return func(a *App) {
		a.fatal = f
	}
}

// WithHardwareOutput marks the output port as backed by a device.
func WithHardwareOutput() Option {
	return func(a *App) {
		a.hardwareOutput = true
	}
}

// App owns every long-lived component of a running instance.
type App struct {
	settings *conf.Settings
	build    *buildinfo.Context

	central  *logger.CentralLogger
	log      logger.Logger
	reporter telemetry.Reporter
	fatal    host.FatalHandler

	pool   *bufferpool.Pool[float32]
	host   *host.Host
	engine *engine.Null
	units  []*engine.Unit
	audio  []*port.AudioPort
	midi   []*port.MIDIPort

	metrics  *observability.Metrics
	sampler  *observability.Sampler
	endpoint *observability.Endpoint

	device         Device
	hardwareOutput bool
	expectedUnits  int
}

// New validates settings and builds the instance. Nothing runs until Run;
// Close releases what New created, including after a failed Run.
func New(settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	if settings == nil {
		return nil, ErrInvalidSettings
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		settings: settings,
		build:    build,
		engine:   engine.NewNull(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.setup(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setup() error {
	if a.log == nil {
		central, err := logger.NewCentralLogger(loggingConfig(a.settings), nil)
		if err != nil {
			return errors.New(err).
				Component(ComponentApp).
				Category(errors.CategoryConfiguration).
				Context("operation", "init_logger").
				Build()
		}
		a.central = central
		a.log = central.Module("rtcore")
	}
	a.log.Info("starting", logger.String("version", a.build.Version()),
		logger.String("build_date", a.build.BuildDate()))
	a.logCPU()

	if a.reporter == nil {
		reporter, err := telemetry.New(telemetryConfig(a.settings, a.build), a.log)
		if err != nil {
			return err
		}
		a.reporter = reporter
	}

	if err := a.setupHost(); err != nil {
		return err
	}
	if err := a.setupPorts(); err != nil {
		return err
	}
	if a.settings.Metrics.Enabled {
		if err := a.setupMetrics(); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) setupHost() error {
	ps := a.settings.Pool
	poolOpts := []bufferpool.Option{
		bufferpool.WithName("samples"),
		bufferpool.WithLogger(a.log),
	}
	if ps.Prewarm > 0 {
		poolOpts = append(poolOpts, bufferpool.WithPrewarm(ps.Prewarm))
	}
	pool, err := bufferpool.NewSamplePool(ps.Capacity, ps.LowWaterMark, ps.BufferSize, poolOpts...)
	if err != nil {
		return err
	}
	a.pool = pool

	hs := a.settings.Host
	hostOpts := []host.Option{
		host.WithLogger(a.log),
		host.WithReporter(a.reporter),
		host.WithLogLimit(hs.FailureLogRate, hs.FailureLogBurst),
	}
	if a.fatal != nil {
		hostOpts = append(hostOpts, host.WithFatalHandler(a.fatal))
	}
	h, err := host.New(hostConfig(a.settings), hostOpts...)
	if err != nil {
		return err
	}
	a.host = h
	return nil
}

func (a *App) setupPorts() error {
	ps := a.settings.Port
	policy, err := port.ParseOverflowPolicy(ps.OverflowPolicy)
	if err != nil {
		return err
	}

	for i := range ps.Count {
		backend := port.BackendDummy
		if a.hardwareOutput && i == ps.Count-1 {
			backend = port.BackendHardware
		}
		p, err := port.NewAudioPort(port.AudioConfig{
			Name:           fmt.Sprintf("audio-%d", i),
			Backend:        backend,
			MaxFrames:      a.settings.Host.MaxFrames,
			MaxConnections: ps.MaxConnections,
			MonitorSize:    ps.MonitorSize,
			OverflowPolicy: policy,
		}, a.pool, a.host, port.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.audio = append(a.audio, p)

		unit, err := engine.NewUnit(a.engine, fmt.Sprintf("track-%d", i))
		if err != nil {
			return err
		}
		a.units = append(a.units, unit)

		if err := a.register(p.Processor(), unit); err != nil {
			return err
		}
		if i > 0 {
			if err := a.audio[i-1].Connect(p); err != nil {
				return err
			}
			if err := a.units[i-1].ConnectTo(unit); err != nil {
				return err
			}
		}
	}

	for i := range ps.MIDICount {
		p, err := port.NewMIDIPort(port.MIDIConfig{
			Name:           fmt.Sprintf("midi-%d", i),
			Backend:        port.BackendDummy,
			MaxEvents:      ps.MaxEvents,
			MaxConnections: ps.MaxConnections,
			MonitorSize:    ps.MonitorSize,
			OverflowPolicy: policy,
		}, a.host, port.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.midi = append(a.midi, p)
		if err := a.register(p.Processor()); err != nil {
			return err
		}
		if i > 0 {
			if err := a.midi[i-1].Connect(p); err != nil {
				return err
			}
		}
	}

	if ps.WAV != "" && len(a.audio) > 0 {
		if err := a.audio[0].LoadWAV(ps.WAV, ps.Loop); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) register(units ...host.Unit) error {
	for _, u := range units {
		if err := a.host.Register(u); err != nil {
			return err
		}
		a.expectedUnits++
	}
	return nil
}

func (a *App) setupMetrics() error {
	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	a.metrics = m

	endpoint, err := observability.NewEndpoint(a.settings.Metrics.Listen, m, a.log)
	if err != nil {
		return err
	}
	a.endpoint = endpoint

	a.sampler = observability.NewSampler(m.RTCore, a.settings.Metrics.Interval, a.log)
	a.sampler.AddPool(a.pool)
	a.sampler.AddHost(a.host)
	for _, p := range a.audio {
		a.sampler.AddPort(p)
	}
	for _, p := range a.midi {
		a.sampler.AddPort(p)
	}
	return nil
}

func (a *App) logCPU() {
	spec := cpuspec.GetCPUSpec()
	a.log.Info("cpu detected",
		logger.String("brand", spec.BrandName),
		logger.Int("physical_cores", spec.PhysicalCores),
		logger.Int("logical_cores", spec.LogicalCores),
		logger.Int("processing_threads", spec.ProcessingThreads()),
		logger.Bool("hybrid", spec.Hybrid()))
	if spec.Hybrid() {
		a.log.Debug("hybrid cpu: pin the processing thread to a performance core for stable cycle times",
			logger.Int("performance_cores", spec.PerformanceCores))
	}
}

// Settings returns the settings the instance was built from.
func (a *App) Settings() *conf.Settings { return a.settings }

// Logger returns the application logger.
func (a *App) Logger() logger.Logger { return a.log }

// Host returns the processing host.
func (a *App) Host() *host.Host { return a.host }

// Pool returns the shared sample pool.
func (a *App) Pool() *bufferpool.Pool[float32] { return a.pool }

// Engine returns the engine behind the track units.
func (a *App) Engine() *engine.Null { return a.engine }

// Units returns the engine units in chain order.
func (a *App) Units() []*engine.Unit { return a.units }

// AudioPorts returns the audio ports in chain order.
func (a *App) AudioPorts() []*port.AudioPort { return a.audio }

// MIDIPorts returns the MIDI ports in chain order.
func (a *App) MIDIPorts() []*port.MIDIPort { return a.midi }

// Metrics returns the metrics registry holder, nil when metrics are off.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Output returns the last audio port in the chain, or nil without ports.
func (a *App) Output() *port.AudioPort {
	if len(a.audio) == 0 {
		return nil
	}
	return a.audio[len(a.audio)-1]
}

// AttachDevice makes Run drive the host through d instead of the interval
// driver. Call before Run.
func (a *App) AttachDevice(d Device) {
	a.device = d
}

// Run drives the host and the control-side services until ctx is done or
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.drive(ctx) })
	if a.sampler != nil {
		g.Go(func() error { return a.sampler.Run(ctx) })
	}
	if a.endpoint != nil {
		g.Go(func() error { return a.endpoint.Run(ctx) })
	}
	g.Go(func() error {
		a.statusLoop(ctx)
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("run failed", logger.Error(err))
		a.reporter.ReportError(err, map[string]string{"operation": "run"})
	}
	return err
}

func (a *App) drive(ctx context.Context) error {
	if a.device != nil {
		if err := a.device.Start(); err != nil {
			return err
		}
		defer func() {
			if err := a.device.Stop(); err != nil {
				a.log.Warn("device stop failed", logger.Error(err))
			}
		}()
	} else {
		if err := a.host.Start(ctx); err != nil {
			return err
		}
		defer a.host.Stop()
	}

	if err := a.host.WaitProcess(registrationTimeout); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.New(err).
			Component(ComponentApp).
			Context("operation", "register_units").
			Build()
	}
	if units := a.host.Stats().Units; units != a.expectedUnits {
		a.log.Warn("not every unit was registered",
			logger.Int("registered", units),
			logger.Int("expected", a.expectedUnits))
	}
	a.log.Info("processing", logger.Int("units", a.expectedUnits),
		logger.Bool("device", a.device != nil))

	<-ctx.Done()
	return nil
}

func (a *App) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logStatus()
		}
	}
}

func (a *App) logStatus() {
	hs := a.host.Stats()
	ps := a.pool.Stats()
	a.log.Info("status",
		logger.Uint64("cycles", hs.Cycles),
		logger.Int("units", hs.Units),
		logger.Uint64("unit_failures", hs.UnitFailures),
		logger.Uint64("command_errors", hs.CommandErrors),
		logger.Int("pool_available", ps.Available),
		logger.Int("pool_live", ps.Live))
}

// Close releases ports, units, the host, the pool and the log outputs.
// Safe to call after a failed New or Run.
func (a *App) Close() error {
	var errs []error
	if a.host != nil {
		errs = append(errs, a.host.Close())
	}
	// With the queue closed, ports release their buffers directly.
	for _, p := range a.audio {
		errs = append(errs, p.Close())
	}
	for _, p := range a.midi {
		errs = append(errs, p.Close())
	}
	for _, u := range a.units {
		errs = append(errs, u.Destroy())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.reporter != nil {
		a.reporter.Flush(reporterFlush)
	}
	if a.log != nil {
		a.log.Info("stopped")
	}
	if a.central != nil {
		errs = append(errs, a.central.Close())
	}
	a.audio, a.midi, a.units = nil, nil, nil
	return errors.Join(errs...)
}

func loggingConfig(s *conf.Settings) *logger.LoggingConfig {
	cfg := s.Logging
	if !s.Debug {
		return &cfg
	}
	cfg.DefaultLevel = string(logger.LogLevelDebug)
	if cfg.Console != nil {
		console := *cfg.Console
		console.Level = string(logger.LogLevelDebug)
		cfg.Console = &console
	}
	return &cfg
}

func hostConfig(s *conf.Settings) host.Config {
	return host.Config{
		ProcessInterval:    s.Host.ProcessInterval,
		FramesPerIteration: s.Host.FramesPerIteration,
		MaxFrames:          s.Host.MaxFrames,
		CommandBudget:      s.Host.CommandBudget,
		MaxUnits:           s.Host.MaxUnits,
		FailureQueueSize:   s.Host.FailureQueueSize,
	}
}

func telemetryConfig(s *conf.Settings, build *buildinfo.Context) telemetry.Config {
	return telemetry.Config{
		Enabled:     s.Telemetry.Enabled,
		DSN:         s.Telemetry.DSN,
		Environment: s.Telemetry.Environment,
		Release:     "rtcore@" + build.Version(),
		SampleRate:  s.Telemetry.SampleRate,
		Debug:       s.Telemetry.Debug,
	}
}
