// Package conf loads rtcore settings from a YAML file, RTCORE_ environment
// variables and bound command-line flags, in increasing precedence.
package conf

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/rtcore/internal/errors"
	"github.com/tphakala/rtcore/internal/logger"
)

// ComponentConf is the error component for this package.
const ComponentConf = "conf"

// Settings is the full rtcore configuration.
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Pool      PoolSettings         `yaml:"pool" mapstructure:"pool"`
	Host      HostSettings         `yaml:"host" mapstructure:"host"`
	Port      PortSettings         `yaml:"port" mapstructure:"port"`
	Device    DeviceSettings       `yaml:"device" mapstructure:"device"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

// PoolSettings configures the shared sample buffer pool.
type PoolSettings struct {
	Capacity     int `yaml:"capacity" mapstructure:"capacity"`         // maximum buffers
	LowWaterMark int `yaml:"lowwatermark" mapstructure:"lowwatermark"` // refill below this many free buffers
	Prewarm      int `yaml:"prewarm" mapstructure:"prewarm"`           // buffers created up front, 0 = capacity
	BufferSize   int `yaml:"buffersize" mapstructure:"buffersize"`     // samples per buffer
}

// HostSettings configures the processing loop.
type HostSettings struct {
	ProcessInterval    time.Duration `yaml:"processinterval" mapstructure:"processinterval"`
	FramesPerIteration int           `yaml:"framesperiteration" mapstructure:"framesperiteration"`
	MaxFrames          int           `yaml:"maxframes" mapstructure:"maxframes"`
	CommandBudget      int           `yaml:"commandbudget" mapstructure:"commandbudget"` // 0 drains the queue every cycle
	MaxUnits           int           `yaml:"maxunits" mapstructure:"maxunits"`
	FailureQueueSize   int           `yaml:"failurequeuesize" mapstructure:"failurequeuesize"`
	FailureLogRate     float64       `yaml:"failurelograte" mapstructure:"failurelograte"` // failure log lines per second
	FailureLogBurst    int           `yaml:"failurelogburst" mapstructure:"failurelogburst"`
}

// PortSettings configures the ports created by the CLI.
type PortSettings struct {
	Count          int    `yaml:"count" mapstructure:"count"`
	MaxConnections int    `yaml:"maxconnections" mapstructure:"maxconnections"`
	MonitorSize    int    `yaml:"monitorsize" mapstructure:"monitorsize"`       // monitor ring size in samples, 0 disables
	OverflowPolicy string `yaml:"overflowpolicy" mapstructure:"overflowpolicy"` // drop-oldest or reject
	WAV            string `yaml:"wav" mapstructure:"wav"`                       // file loaded into the first port
	Loop           bool   `yaml:"loop" mapstructure:"loop"`
	MIDICount      int    `yaml:"midicount" mapstructure:"midicount"`
	MaxEvents      int    `yaml:"maxevents" mapstructure:"maxevents"` // MIDI events per cycle
}

// DeviceSettings configures the sound card driver.
type DeviceSettings struct {
	Backend      string `yaml:"backend" mapstructure:"backend"`
	Name         string `yaml:"name" mapstructure:"name"`
	SampleRate   uint32 `yaml:"samplerate" mapstructure:"samplerate"`
	Channels     uint32 `yaml:"channels" mapstructure:"channels"`
	PeriodFrames uint32 `yaml:"periodframes" mapstructure:"periodframes"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Listen   string        `yaml:"listen" mapstructure:"listen"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"` // sampling interval
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN         string  `yaml:"dsn" mapstructure:"dsn"`
	Environment string  `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64 `yaml:"samplerate" mapstructure:"samplerate"`
	Debug       bool    `yaml:"debug" mapstructure:"debug"`
}

// Loader reads Settings through a private viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and RTCORE_ environment
// overrides configured.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag makes flag override key when the flag was set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errors.Newf("flag for %s not found", key).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := l.v.BindPFlag(key, flag); err != nil {
		return errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Context("key", key).
			Build()
	}
	return nil
}

// SettingAnnotation is the flag annotation naming the settings key a flag
// overrides.
const SettingAnnotation = "rtcore_setting"

// MarkSetting annotates flag name in fs with key so BindFlags binds it.
func MarkSetting(fs *pflag.FlagSet, name, key string) error {
	if err := fs.SetAnnotation(name, SettingAnnotation, []string{key}); err != nil {
		return errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Context("flag", name).
			Context("key", key).
			Build()
	}
	return nil
}

// BindFlags binds every flag in fs marked with MarkSetting. Commands mark
// their flags when built and bind only the flags of the command that runs,
// so two commands may mark flags for the same key.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[SettingAnnotation]
		if err != nil || len(keys) != 1 {
			return
		}
		err = l.BindFlag(keys[0], f)
	})
	return err
}

// Load reads path, or rtcore.yaml from the default locations when path is
// empty, and returns validated settings. A missing default file is not an
// error; a missing explicit path is.
func (l *Loader) Load(path string) (*Settings, error) {
	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName("rtcore")
		l.v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			l.v.AddConfigPath(p)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component(ComponentConf).
				Category(errors.CategoryConfiguration).
				Context("path", path).
				Context("operation", "read_config").
				Build()
		}
	}

	settings := &Settings{}
	if err := l.v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// ConfigFileUsed returns the file Load read, or "" when none was found.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load is NewLoader().Load(path).
func Load(path string) (*Settings, error) {
	return NewLoader().Load(path)
}

// Default returns the default settings.
func Default() *Settings {
	s, err := NewLoader().unmarshalDefaults()
	if err != nil {
		panic(err)
	}
	return s
}

func (l *Loader) unmarshalDefaults() (*Settings, error) {
	settings := &Settings{}
	if err := l.v.Unmarshal(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save writes settings to path as YAML. The file is replaced atomically
// through a temporary file in the same directory.
func Save(settings *Settings, path string) error {
	data, err := Marshal(settings)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileError(err, path, "create_directory")
	}
	tempFile, err := os.CreateTemp(filepath.Dir(path), "rtcore-*.yaml")
	if err != nil {
		return fileError(err, path, "create_temp")
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fileError(err, path, "write_temp")
	}
	if err := tempFile.Close(); err != nil {
		return fileError(err, path, "close_temp")
	}
	if err := os.Rename(tempName, path); err != nil {
		return fileError(err, path, "rename")
	}
	return nil
}

// Marshal encodes settings as YAML.
func Marshal(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal_config").
			Build()
	}
	return data, nil
}

func fileError(err error, path, op string) error {
	return errors.New(err).
		Component(ComponentConf).
		Category(errors.CategoryFileIO).
		Context("path", path).
		Context("operation", op).
		Build()
}
