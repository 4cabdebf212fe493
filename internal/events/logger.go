package events

import "github.com/pneumai/pneumai-go/internal/logger"

// GetLogger returns a logger scoped to the events module.
func GetLogger() logger.Logger {
	return logger.Global().Module("events")
}
