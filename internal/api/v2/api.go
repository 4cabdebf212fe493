// Package api implements the /api/v2 JSON, SSE and WebSocket endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	mw "github.com/pneumai/pneumai-go/internal/api/middleware"
	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
	"github.com/pneumai/pneumai-go/internal/comments"
	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/ingest"
	"github.com/pneumai/pneumai-go/internal/logger"
	"github.com/pneumai/pneumai-go/internal/observability"
	"github.com/pneumai/pneumai-go/internal/scans"
)

// Submitter runs the upload pipeline. *ingest.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, req ingest.Request) (*ingest.Result, error)
	Ready() bool
	ModelVersion() string
}

// EventSource registers live subscriptions. *events.Broadcaster implements it.
type EventSource interface {
	Subscribe(filter events.Filter) (*events.Subscription, error)
	Stats() events.Stats
}

// Database is the part of the datastore manager the health checks need.
type Database interface {
	Ping() error
	Dialect() datastore.Dialect
}

// Dependencies are the services the controller routes to.
type Dependencies struct {
	Ingest   Submitter
	Scans    *scans.Store
	Comments *comments.Engine
	Events   EventSource
	Sessions auth.SessionLookup
	DB       Database
	Metrics  *observability.Metrics // optional
	Build    *buildinfo.Context     // optional
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	ingest   Submitter
	scans    *scans.Store
	comments *comments.Engine
	events   EventSource
	sessions auth.SessionLookup
	db       Database
	metrics  *observability.Metrics
	build    *buildinfo.Context
	logger   logger.Logger

	upgrader       websocket.Upgrader
	heartbeat      time.Duration
	wsPingInterval time.Duration
	startTime      time.Time

	// Streams watch ctx so shutdown does not wait on idle subscribers
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// WithWebSocketPing sets the interval of server-initiated WebSocket pings.
func WithWebSocketPing(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.wsPingInterval = d
		}
	}
}

// New creates the API controller and registers every route under /api/v2.
func New(e *echo.Echo, settings *conf.Settings, deps Dependencies, opts ...Option) (*Controller, error) {
	if settings == nil {
		return nil, fmt.Errorf("api: settings are required")
	}
	if deps.Ingest == nil || deps.Scans == nil || deps.Comments == nil || deps.Events == nil || deps.Sessions == nil || deps.DB == nil {
		return nil, errors.Newf("api: missing dependency").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:           e,
		Settings:       settings,
		ingest:         deps.Ingest,
		scans:          deps.Scans,
		comments:       deps.Comments,
		events:         deps.Events,
		sessions:       deps.Sessions,
		db:             deps.DB,
		metrics:        deps.Metrics,
		build:          deps.Build,
		logger:         logger.Global().Module("api"),
		heartbeat:      30 * time.Second,
		wsPingInterval: 54 * time.Second,
		startTime:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}
	for _, opt := range opts {
		opt(c)
	}

	e.HTTPErrorHandler = c.HTTPErrorHandler
	c.Group = e.Group("/api/v2")
	c.Group.Use(middleware.Recover())
	c.Group.Use(c.LoggingMiddleware())

	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	// Public health endpoints
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/readiness", c.Readiness)
	if c.metrics != nil {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	authed := c.AuthMiddleware(false)

	c.Group.POST("/scans", c.SubmitScan, authed, c.uploadLimiter())
	c.Group.GET("/scans", c.ListScans, authed)
	c.Group.GET("/scans/lookup", c.LookupScan, authed)
	c.Group.GET("/scans/:scanId", c.GetScan, authed)
	c.Group.GET("/scans/:scanId/images/:imageType", c.GetScanImage, authed)
	c.Group.PUT("/scans/:scanId/review", c.ReviewScan, authed)
	c.Group.POST("/scans/:scanId/archive", c.ArchiveScan, authed)
	c.Group.DELETE("/scans/:scanId", c.DeleteScan, authed)

	c.Group.POST("/scans/:scanId/comments", c.AddComment, authed)
	c.Group.GET("/scans/:scanId/comments", c.ListComments, authed)
	c.Group.PUT("/comments/:commentId", c.EditComment, authed)
	c.Group.DELETE("/comments/:commentId", c.DeleteComment, authed)

	// Browsers cannot set headers on EventSource or WebSocket handshakes
	streams := c.AuthMiddleware(true)
	c.Group.GET("/events/stream", c.StreamEvents, streams)
	c.Group.GET("/ws", c.ServeWebSocket, streams)
}

// uploadLimiter throttles submissions per caller.
func (c *Controller) uploadLimiter() echo.MiddlewareFunc {
	rl := c.Settings.Server.RateLimit
	if !rl.Enabled || rl.UploadsPerMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return mw.NewRateLimiter(
		mw.NewCallerRateStore(rl.UploadsPerMinute, rl.Burst),
		func(ctx echo.Context) (string, error) {
			if id, ok := auth.FromContext(ctx.Request().Context()); ok {
				return id.UserID, nil
			}
			return ctx.RealIP(), nil
		},
		func(ctx echo.Context, _ string, _ error) error {
			return c.HandleError(ctx, errors.New(errors.NewStd("upload rate limit exceeded, retry later")).
				Component("api").
				Category(errors.CategoryRateLimit).
				Build())
		},
	)
}

func (c *Controller) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := c.Settings.Server.AllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// LoggingMiddleware creates a middleware function that logs API requests
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			cid := generateCorrelationID()
			ctx.Set(correlationKey, cid)
			ctx.SetRequest(ctx.Request().WithContext(logger.WithCorrelation(ctx.Request().Context(), cid)))

			err := next(ctx)
			if err != nil {
				// Render here so the logged status is the one the client sees
				ctx.Error(err)
			}

			req := ctx.Request()
			res := ctx.Response()
			latency := time.Since(start)

			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.String("route", ctx.Path()),
				logger.Int("status", res.Status),
				logger.String("ip", ctx.RealIP()),
				logger.Int64("latency_ms", latency.Milliseconds()),
			}
			if id, ok := auth.FromContext(req.Context()); ok {
				fields = append(fields, logger.String("user_id", id.UserID), logger.String("role", string(id.Role)))
			}
			fields = append(fields, logger.CorrelationID(cid))
			if err != nil {
				fields = append(fields, logger.Error(err))
			}
			c.logger.Info("api request", fields...)

			if c.metrics != nil {
				c.metrics.HTTP.RecordRequest(req.Method, ctx.Path(), res.Status, latency.Seconds())
			}
			return nil
		}
	}
}

// Shutdown ends every open event stream and waits for the handlers to return.
// Call it before shutting the HTTP server down.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.logger.Debug("api controller shut down")
}
