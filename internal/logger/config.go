package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" json:"default_level"` // default log level for all modules
	Timezone     string            `yaml:"timezone" json:"timezone"`           // "Local", "UTC", or IANA timezone name
	Console      *ConsoleOutput    `yaml:"console" json:"console"`             // console output configuration
	FileOutput   *FileOutput       `yaml:"file_output" json:"file_output"`     // file output configuration
	ModuleLevels map[string]string `yaml:"module_levels" json:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Text console output omits timestamps; journald and container runtimes add them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Level   string `yaml:"level" json:"level"`
	Format  string `yaml:"format" json:"format"` // "text" (default) or "json"
}

// FileOutput represents file logging configuration.
// File output is JSON with RFC3339 timestamps and rotates by size.
type FileOutput struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	Level      string `yaml:"level" json:"level"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // megabytes before rotation
	MaxAge     int    `yaml:"max_age" json:"max_age"`         // days to keep rotated files (0 = no limit)
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // rotated files to keep (0 = no limit)
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Default values for logging configuration.
const (
	DefaultLogLevel   = "info"
	DefaultLogPath    = "logs/pneumai.log"
	DefaultMaxSize    = 100
	DefaultMaxAge     = 30
	DefaultMaxBackups = 10
)

// applyConfigDefaults fills nil sections so a partial config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput != nil {
		if cfg.FileOutput.Path == "" {
			cfg.FileOutput.Path = DefaultLogPath
		}
		if cfg.FileOutput.Level == "" {
			cfg.FileOutput.Level = cfg.DefaultLevel
		}
		if cfg.FileOutput.MaxSize <= 0 {
			cfg.FileOutput.MaxSize = DefaultMaxSize
		}
	}
	if cfg.ModuleLevels == nil {
		cfg.ModuleLevels = make(map[string]string)
	}
}
