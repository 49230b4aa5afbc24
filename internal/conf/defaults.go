package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/rtcore/internal/logger"
)

const envPrefix = "RTCORE"

// setDefaults registers every key so environment overrides apply to it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("pool.capacity", 64)
	v.SetDefault("pool.lowwatermark", 16)
	v.SetDefault("pool.prewarm", 0)
	v.SetDefault("pool.buffersize", 4096)

	v.SetDefault("host.processinterval", 5333*time.Microsecond)
	v.SetDefault("host.framesperiteration", 256)
	v.SetDefault("host.maxframes", 4096)
	v.SetDefault("host.commandbudget", 0)
	v.SetDefault("host.maxunits", 64)
	v.SetDefault("host.failurequeuesize", 256)
	v.SetDefault("host.failurelograte", 10.0)
	v.SetDefault("host.failurelogburst", 20)

	v.SetDefault("port.count", 2)
	v.SetDefault("port.maxconnections", 8)
	v.SetDefault("port.monitorsize", 16384)
	v.SetDefault("port.overflowpolicy", "drop-oldest")
	v.SetDefault("port.wav", "")
	v.SetDefault("port.loop", true)
	v.SetDefault("port.midicount", 1)
	v.SetDefault("port.maxevents", 128)

	v.SetDefault("device.backend", "")
	v.SetDefault("device.name", "")
	v.SetDefault("device.samplerate", 48000)
	v.SetDefault("device.channels", 2)
	v.SetDefault("device.periodframes", 256)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	v.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	v.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	v.SetDefault("logging.file_output.compress", false)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
	v.SetDefault("logging.module_levels", map[string]string{})

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
	v.SetDefault("metrics.interval", time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.samplerate", 1.0)
	v.SetDefault("telemetry.debug", false)
}
