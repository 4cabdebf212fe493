// Package api provides the HTTP server infrastructure for the scan service.
// The JSON, SSE and WebSocket endpoints live in the v2 subpackage.
package api

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("server")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout       = 5 * time.Minute
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second

	// bodySlackMB covers multipart framing around the upload itself
	bodySlackMB = 1
)

// Config holds the HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string

	// There is no write timeout: event streams stay open indefinitely
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration

	// MaxConnections caps concurrently accepted connections; 0 is unlimited
	MaxConnections int

	BodyLimit string // e.g. "51M"
	Debug     bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:              8000,
		AllowedOrigins:    []string{"*"},
		ReadTimeout:       DefaultReadTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		BodyLimit:         "11M",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	cfg.Host = settings.Server.Host
	cfg.Port = settings.Server.Port
	if len(settings.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = settings.Server.AllowedOrigins
	}
	if settings.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = settings.Server.ShutdownTimeout
	}
	cfg.MaxConnections = settings.Server.MaxConnections
	cfg.BodyLimit = fmt.Sprintf("%dM", settings.Ingest.MaxUploadSizeMB+bodySlackMB)
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	if c.BodyLimit == "" {
		return fmt.Errorf("body limit is required")
	}
	return nil
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, body_limit=%s, debug=%v", c.Address(), c.BodyLimit, c.Debug)
}
