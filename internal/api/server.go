package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	mw "github.com/pneumai/pneumai-go/internal/api/middleware"
	v2 "github.com/pneumai/pneumai-go/internal/api/v2"
	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// Server is the main HTTP server.
// It owns the Echo instance, the middleware stack and the v2 controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger

	apiController *v2.Controller
	controllerOpt []v2.Option
	listener      net.Listener

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithListener serves on an existing listener instead of binding the configured address.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// WithControllerOptions passes options through to the v2 controller.
func WithControllerOptions(opts ...v2.Option) ServerOption {
	return func(s *Server) {
		s.controllerOpt = append(s.controllerOpt, opts...)
	}
}

// New creates a new HTTP server with the given settings and dependencies.
func New(settings *conf.Settings, deps v2.Dependencies, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		logger:    GetLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.ReadHeaderTimeout = config.ReadHeaderTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(deps); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.logger.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.String("body_limit", config.BodyLimit),
		logger.Bool("debug", config.Debug))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	securityConfig := mw.NewSecurityConfig(s.config.AllowedOrigins)

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
	s.echo.Use(mw.NoStore("/api/"))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(deps v2.Dependencies) error {
	// Liveness at root level for load balancers
	s.echo.GET("/health", s.healthCheck)

	apiController, err := v2.New(s.echo, s.settings, deps, s.controllerOpt...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v2: %w", err)
	}
	s.apiController = apiController
	return nil
}

// healthCheck answers as long as the process serves requests.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(uptime.Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// Start serves HTTP requests and blocks until the server is shut down.
// It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.config.Address()); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	s.echo.Listener = ln

	s.logger.Info("starting HTTP server",
		logger.String("address", ln.Addr().String()),
		logger.Int("max_connections", s.config.MaxConnections))
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown ends open event streams, then drains in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.apiController != nil {
		s.apiController.Shutdown()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// ShutdownTimeout returns the configured grace period.
func (s *Server) ShutdownTimeout() time.Duration {
	return s.config.ShutdownTimeout
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}
