package conf

import (
	"maps"

	"github.com/pneumai/pneumai-go/internal/logger"
)

// GetLogger returns the configuration module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

// LoggerConfig maps the logging settings onto the central logger configuration.
// Debug mode lowers the default level to debug unless a lower level is already set;
// database debug logs every SQL statement through the datastore module.
func (s *Settings) LoggerConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug && level != string(logger.LogLevelTrace) {
		level = string(logger.LogLevelDebug)
	}

	cfg := &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Logging.Timezone,
		Console: &logger.ConsoleOutput{
			Enabled: true,
			Level:   level,
			Format:  s.Logging.Format,
		},
		ModuleLevels: maps.Clone(s.Logging.ModuleLevels),
	}
	if s.Database.Debug {
		if cfg.ModuleLevels == nil {
			cfg.ModuleLevels = make(map[string]string)
		}
		cfg.ModuleLevels["datastore"] = string(logger.LogLevelTrace)
	}
	if s.Logging.File.Enabled {
		cfg.FileOutput = &logger.FileOutput{
			Enabled:    true,
			Path:       s.Logging.File.Path,
			Level:      level,
			MaxSize:    s.Logging.File.MaxSize,
			MaxAge:     s.Logging.File.MaxAge,
			MaxBackups: s.Logging.File.MaxBackups,
			Compress:   s.Logging.File.Compress,
		}
	}
	return cfg
}
