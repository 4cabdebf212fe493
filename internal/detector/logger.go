package detector

import (
	"sync"

	"github.com/pneumai/pneumai-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the detector package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("detector")
	})
	return serviceLogger
}
