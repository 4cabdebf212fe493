package auth

import "github.com/pneumai/pneumai-go/internal/logger"

// GetLogger returns a logger scoped to the auth module.
func GetLogger() logger.Logger {
	return logger.Global().Module("auth")
}
