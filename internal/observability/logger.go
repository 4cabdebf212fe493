package observability

import "github.com/pneumai/pneumai-go/internal/logger"

// GetLogger returns a logger scoped to the observability module.
func GetLogger() logger.Logger {
	return logger.Global().Module("observability")
}
