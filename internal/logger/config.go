package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" mapstructure:"default_level"` // default log level for all modules
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`           // "Local", "UTC", or IANA timezone name
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`             // console output configuration
	FileOutput   *FileOutput       `yaml:"file_output" mapstructure:"file_output"`     // file output configuration
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output uses human-readable text format.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // enable console output
	Level   string `yaml:"level" mapstructure:"level"`     // log level for console output
}

// FileOutput represents file logging configuration.
// File output uses JSON format and is rotated by lumberjack.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`                     // enable file output
	Path            string `yaml:"path" mapstructure:"path"`                           // log file path
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size"`                   // maximum size in MB before rotation
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age"`                     // maximum age in days to keep rotated logs (0 = no limit)
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files"` // maximum number of rotated log files to keep (0 = no limit)
	Compress        bool   `yaml:"compress" mapstructure:"compress"`                   // compress rotated logs with gzip
	Level           string `yaml:"level" mapstructure:"level"`                         // log level for file output
}

// Default values for logging configuration.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/rtcore.log"
	DefaultMaxSize         = 100 // MB before rotation
	DefaultMaxAge          = 30  // days to keep rotated files
	DefaultMaxRotatedFiles = 10
)

// DefaultLoggingConfig returns a console-only configuration.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		DefaultLevel: DefaultLogLevel,
		Timezone:     "Local",
		Console: &ConsoleOutput{
			Enabled: true,
			Level:   DefaultLogLevel,
		},
		FileOutput: &FileOutput{
			Enabled:         false,
			Path:            DefaultLogPath,
			MaxSize:         DefaultMaxSize,
			MaxAge:          DefaultMaxAge,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
			Level:           DefaultLogLevel,
		},
		ModuleLevels: map[string]string{},
	}
}
