package analysis

import (
	"sync"

	"github.com/pneumai/pneumai-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the analysis module logger. The global logger must be set
// before the first call.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("analysis")
	})
	return serviceLogger
}
