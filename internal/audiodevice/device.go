// Package audiodevice drives a host from a sound card. The playback
// callback runs one or more host cycles and copies an audio port's output
// into the device buffer, so the card's clock paces the processing loop.
// The device thread becomes the processing goroutine: do not also Start
// the host's interval driver.
package audiodevice

import (
	"encoding/binary"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/host"
	"github.com/tphakala/rtcore/internal/logger"
	"github.com/tphakala/rtcore/internal/port"
)

// ComponentAudioDevice is the error component for this package.
const ComponentAudioDevice = "audiodevice"

const bytesPerSample = 4

var (
	// ErrInvalidConfig is returned for unusable device settings.
	ErrInvalidConfig = errors.Newf("invalid audio device configuration").
				Component(ComponentAudioDevice).
				Category(errors.CategoryValidation).
				Build()

	// ErrDeviceNotFound is returned when no device matches the requested name.
	ErrDeviceNotFound = errors.Newf("audio device not found").
				Component(ComponentAudioDevice).
				Category(errors.CategoryNotFound).
				Build()

	// ErrState is returned for Start/Stop calls in the wrong state.
	ErrState = errors.Newf("audio device in wrong state").
			Component(ComponentAudioDevice).
			Category(errors.CategoryState).
			Build()
)

// Config selects and configures the playback device.
type Config struct {
	Backend      string // "", "alsa", "pulse", "jack", "wasapi", "coreaudio" or "null"
	DeviceName   string // empty selects the default device
	SampleRate   uint32
	Channels     uint32
	PeriodFrames uint32
}

// DefaultConfig returns a stereo 48 kHz configuration on the platform
// default backend.
func DefaultConfig() Config {
	return Config{
		SampleRate:   48000,
		Channels:     2,
		PeriodFrames: 256,
	}
}

func (c Config) validate() error {
	var reason string
	switch {
	case c.SampleRate == 0:
		reason = "sample rate must be positive"
	case c.Channels == 0:
		reason = "channel count must be positive"
	case c.PeriodFrames == 0:
		reason = "period frames must be positive"
	}
	if reason == "" {
		if _, err := parseBackend(c.Backend); err != nil {
			return err
		}
		return nil
	}
	return errors.New(ErrInvalidConfig).
		Context("reason", reason).
		Build()
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// Driver owns a malgo context and playback device.
type Driver struct {
	cfg       Config
	host      *host.Host
	source    *port.AudioProcessor
	channels  int
	maxFrames int

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool

	callbacks  atomic.Uint64
	frames     atomic.Uint64
	underflows atomic.Uint64
	stops      atomic.Uint64

	log logger.Logger
}

// Stats are driver counters.
type Stats struct {
	Callbacks  uint64
	Frames     uint64
	Underflows uint64 // cycles whose port output was shorter than requested
	Stops      uint64 // device stops not requested through Stop
}

// New builds a driver that cycles h and plays out's output. It does not
// touch the sound card; call Open for that.
func New(cfg Config, h *host.Host, out *port.AudioPort, opts ...Option) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if h == nil || out == nil {
		return nil, errors.New(ErrInvalidConfig).
			Context("reason", "host and output port are required").
			Build()
	}
	d := &Driver{
		cfg:       cfg,
		host:      h,
		source:    out.Processor(),
		channels:  int(cfg.Channels),
		maxFrames: h.Config().MaxFrames,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Module("audiodevice")
	return d, nil
}

// Open initialises the backend and the playback device.
func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return errors.New(ErrState).Context("reason", "device already open").Build()
	}

	mctx, err := initContext(d.cfg.Backend)
	if err != nil {
		return err
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatF32
	devCfg.Playback.Channels = d.cfg.Channels
	devCfg.SampleRate = d.cfg.SampleRate
	devCfg.PeriodSizeInFrames = d.cfg.PeriodFrames
	devCfg.Alsa.NoMMap = 1

	if d.cfg.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Playback)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return errors.New(err).
				Component(ComponentAudioDevice).
				Category(errors.CategoryAudio).
				Context("operation", "enumerate_devices").
				Build()
		}
		info, err := selectDevice(infos, d.cfg.DeviceName)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		devCfg.Playback.DeviceID = info.ID.Pointer()
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return errors.New(err).
			Component(ComponentAudioDevice).
			Category(errors.CategoryAudio).
			Context("operation", "init_device").
			Context("device_name", d.cfg.DeviceName).
			Build()
	}
	d.mctx = mctx
	d.device = device

	d.log.Info("playback device opened",
		logger.String("device_name", d.cfg.DeviceName),
		logger.Int("sample_rate", int(device.SampleRate())),
		logger.Int("channels", d.channels),
		logger.Int("period_frames", int(d.cfg.PeriodFrames)))
	return nil
}

// Start starts playback; the device callback begins driving the host.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return errors.New(ErrState).Context("reason", "device not open").Build()
	}
	if d.running.Load() {
		return errors.New(ErrState).Context("reason", "device already running").Build()
	}
	if err := d.device.Start(); err != nil {
		return errors.New(err).
			Component(ComponentAudioDevice).
			Category(errors.CategoryAudio).
			Context("operation", "start_device").
			Build()
	}
	d.running.Store(true)
	d.log.Info("playback started")
	return nil
}

// Stop halts playback. The host keeps its graph and can be driven again.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil || !d.running.Load() {
		return errors.New(ErrState).Context("reason", "device not running").Build()
	}
	d.running.Store(false)
	if err := d.device.Stop(); err != nil {
		return errors.New(err).
			Component(ComponentAudioDevice).
			Category(errors.CategoryAudio).
			Context("operation", "stop_device").
			Build()
	}
	d.log.Info("playback stopped", logger.Uint64("callbacks", d.callbacks.Load()))
	return nil
}

// Close stops playback if needed and releases the device and context.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return nil
	}
	if d.running.Swap(false) {
		_ = d.device.Stop()
	}
	d.device.Uninit()
	d.device = nil
	err := d.mctx.Uninit()
	d.mctx.Free()
	d.mctx = nil
	if err != nil {
		return errors.New(err).
			Component(ComponentAudioDevice).
			Category(errors.CategoryAudio).
			Context("operation", "uninit_context").
			Build()
	}
	return nil
}

// Running reports whether playback is active.
func (d *Driver) Running() bool {
	return d.running.Load()
}

// Stats returns the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Callbacks:  d.callbacks.Load(),
		Frames:     d.frames.Load(),
		Underflows: d.underflows.Load(),
		Stops:      d.stops.Load(),
	}
}

func (d *Driver) onData(pOutput, _ []byte, frameCount uint32) {
	d.render(pOutput, int(frameCount))
}

func (d *Driver) onStop() {
	if d.running.Load() {
		d.stops.Add(1)
	}
}

// render fills out with frames interleaved float32 frames, cycling the
// host in chunks of at most MaxFrames. Runs on the device thread.
func (d *Driver) render(out []byte, frames int) {
	d.callbacks.Add(1)
	frameBytes := d.channels * bytesPerSample
	frames = min(frames, len(out)/frameBytes)

	for off := 0; off < frames; {
		n := min(d.maxFrames, frames-off)
		d.host.Cycle(n)

		samples := d.source.Output()
		if len(samples) < n {
			d.underflows.Add(1)
		}
		dst := out[off*frameBytes : (off+n)*frameBytes]
		for i := range n {
			var bits uint32
			if i < len(samples) {
				bits = math.Float32bits(samples[i])
			}
			frame := dst[i*frameBytes : (i+1)*frameBytes]
			for ch := range d.channels {
				binary.LittleEndian.PutUint32(frame[ch*bytesPerSample:], bits)
			}
		}
		off += n
	}
	d.frames.Add(uint64(frames))
}

// DeviceInfo describes a playback device.
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// Devices lists playback devices on backend ("" for the platform default).
func Devices(backend string) ([]DeviceInfo, error) {
	mctx, err := initContext(backend)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentAudioDevice).
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        infos[i].ID.String(),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

func initContext(backend string) (*malgo.AllocatedContext, error) {
	b, err := parseBackend(backend)
	if err != nil {
		return nil, err
	}
	var backends []malgo.Backend
	if b != nil {
		backends = []malgo.Backend{*b}
	}
	mctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentAudioDevice).
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Context("backend", backend).
			Context("os", runtime.GOOS).
			Build()
	}
	return mctx, nil
}

// parseBackend maps a backend name to malgo. A nil result lets malgo pick.
func parseBackend(name string) (*malgo.Backend, error) {
	var b malgo.Backend
	switch strings.ToLower(name) {
	case "", "default":
		return nil, nil
	case "alsa":
		b = malgo.BackendAlsa
	case "pulse", "pulseaudio":
		b = malgo.BackendPulseaudio
	case "jack":
		b = malgo.BackendJack
	case "wasapi":
		b = malgo.BackendWasapi
	case "coreaudio":
		b = malgo.BackendCoreaudio
	case "null":
		b = malgo.BackendNull
	default:
		return nil, errors.New(ErrInvalidConfig).
			Context("backend", name).
			Context("reason", "unknown backend").
			Build()
	}
	return &b, nil
}

// selectDevice matches name exactly, then as a substring.
func selectDevice(infos []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	for i := range infos {
		if infos[i].Name() == name {
			return &infos[i], nil
		}
	}
	for i := range infos {
		if strings.Contains(infos[i].Name(), name) {
			return &infos[i], nil
		}
	}
	return nil, errors.New(ErrDeviceNotFound).
		Context("device_name", name).
		Context("available_devices", len(infos)).
		Build()
}
