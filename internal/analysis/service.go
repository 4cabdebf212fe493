// Package analysis assembles the scan service from settings and runs it,
// and scores image files offline for the CLI.
package analysis

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pneumai/pneumai-go/internal/api"
	v2 "github.com/pneumai/pneumai-go/internal/api/v2"
	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
	"github.com/pneumai/pneumai-go/internal/comments"
	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/fingerprint"
	"github.com/pneumai/pneumai-go/internal/ingest"
	"github.com/pneumai/pneumai-go/internal/logger"
	"github.com/pneumai/pneumai-go/internal/mqtt"
	"github.com/pneumai/pneumai-go/internal/observability"
	"github.com/pneumai/pneumai-go/internal/scans"
)

const (
	sentryFlushTimeout = 2 * time.Second
	mqttStartupTimeout = 5 * time.Second
	mqttRetryInterval  = 30 * time.Second
)

// Service is the running scan service: storage, inference, events and HTTP.
type Service struct {
	settings    *conf.Settings
	build       *buildinfo.Context
	db          datastore.Manager
	detector    detector.Detector
	metrics     *observability.Metrics
	broadcaster *events.Broadcaster
	mqtt        mqtt.Client
	server      *api.Server

	// closers run in reverse order on shutdown
	closers []func()

	listener    net.Listener
	sessions    auth.SessionLookup
	detOverride detector.Detector
	serverOpts  []api.ServerOption
	log         logger.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithListener serves on l instead of the configured address.
func WithListener(l net.Listener) ServiceOption {
	return func(s *Service) { s.listener = l }
}

// WithSessions replaces the JWT session lookup.
func WithSessions(lookup auth.SessionLookup) ServiceOption {
	return func(s *Service) { s.sessions = lookup }
}

// WithDetector replaces the configured model.
func WithDetector(d detector.Detector) ServiceOption {
	return func(s *Service) { s.detOverride = d }
}

// WithServerOptions passes options through to the HTTP server.
func WithServerOptions(opts ...api.ServerOption) ServiceOption {
	return func(s *Service) { s.serverOpts = append(s.serverOpts, opts...) }
}

// NewService wires every component. On error, everything opened so far is closed.
func NewService(settings *conf.Settings, build *buildinfo.Context, opts ...ServiceOption) (*Service, error) {
	if settings == nil {
		return nil, errors.Newf("analysis: settings are required").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s := &Service{settings: settings, build: build, log: GetLogger()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	settings := s.settings

	if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, s.build.GetVersion()); err != nil {
		s.log.Warn("error telemetry disabled", logger.Error(err))
	} else if settings.Sentry.DSN != "" {
		s.closers = append(s.closers, func() { errors.FlushSentry(sentryFlushTimeout) })
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return errors.New(err).Component("analysis").Category(errors.CategorySystem).Build()
	}
	s.metrics = m

	db, err := datastore.Open(datastore.Config{
		URL:           settings.Database.URL,
		SlowThreshold: settings.Database.SlowThreshold,
	})
	if err != nil {
		return err
	}
	s.db = db
	s.closers = append(s.closers, func() {
		if err := db.Close(); err != nil {
			s.log.Error("failed to close database", logger.Error(err))
		}
	})
	if err := db.Initialize(); err != nil {
		return err
	}
	s.log.Info("database ready",
		logger.String("dialect", string(db.Dialect())),
		logger.String("location", db.Location()))

	fp, err := fingerprint.New(settings.Ingest.Digest)
	if err != nil {
		return err
	}

	if s.detOverride != nil {
		s.detector = s.detOverride
	} else {
		det, closeDet, err := NewDetector(settings.Model)
		if err != nil {
			return err
		}
		s.detector = det
		s.closers = append(s.closers, closeDet)
	}
	s.log.Info("detector ready", logger.String("model_version", s.detector.ModelVersion()))

	// The MQTT closer is registered before the broadcaster's so the drain can still publish.
	var bridge *mqtt.Bridge
	if settings.MQTT.Enabled {
		client, err := s.initMQTT()
		if err != nil {
			return err
		}
		bridge = mqtt.NewBridge(client, settings.MQTT.Topic, 0)
	}

	s.broadcaster = events.New(events.Config{
		BufferSize:       settings.Events.BufferSize,
		Workers:          settings.Events.Workers,
		SubscriberBuffer: settings.Events.SubscriberBuffer,
		SendTimeout:      settings.Events.SendTimeout,
	}, events.WithRecorder(m.Broadcast))
	bc := s.broadcaster
	s.closers = append(s.closers, func() {
		if err := bc.Shutdown(settings.Server.ShutdownTimeout); err != nil {
			s.log.Warn("event broadcaster did not drain", logger.Error(err))
		}
	})
	if bridge != nil {
		if err := bc.RegisterConsumer(bridge); err != nil {
			return err
		}
	}

	sessions, err := s.sessionLookup()
	if err != nil {
		return err
	}

	visibility, err := scans.PolicyByName(settings.Scans.Visibility)
	if err != nil {
		return err
	}

	repo := repository.NewScanRepository(db.DB())
	orch, err := ingest.New(ingest.Config{
		MaxUploadBytes:   settings.Ingest.MaxUploadBytes(),
		AllowedTypes:     settings.Ingest.AllowedTypes,
		MaxPixels:        settings.Ingest.MaxPixels,
		Workers:          settings.Ingest.Workers,
		InferenceTimeout: settings.Ingest.InferenceTimeout,
	}, repo, s.detector, fp, ingest.WithPublisher(bc), ingest.WithMetrics(m.Ingest))
	if err != nil {
		return err
	}
	store := scans.NewStore(repo, scans.WithPolicy(visibility), scans.WithPublisher(bc))
	engine := comments.NewEngine(repository.NewCommentRepository(db.DB()), store, bc)

	serverOpts := s.serverOpts
	if s.listener != nil {
		serverOpts = append(serverOpts, api.WithListener(s.listener))
	}
	server, err := api.New(settings, v2.Dependencies{
		Ingest:   orch,
		Scans:    store,
		Comments: engine,
		Events:   bc,
		Sessions: sessions,
		DB:       db,
		Metrics:  m,
		Build:    s.build,
	}, serverOpts...)
	if err != nil {
		return err
	}
	s.server = server
	return nil
}

// initMQTT creates the bridge client. A broker that is down at startup is
// logged and retried by the client; it never blocks the service.
func (s *Service) initMQTT() (mqtt.Client, error) {
	cfg := s.settings.MQTT
	client, err := mqtt.NewClient(mqtt.Config{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
		Topic:    cfg.Topic,
		QoS:      byte(cfg.QoS),
		Retain:   cfg.Retain,
	}, s.metrics.MQTT)
	if err != nil {
		return nil, err
	}
	s.mqtt = client
	s.closers = append(s.closers, client.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), mqttStartupTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		s.log.Warn("mqtt broker unavailable, retrying in background",
			logger.String("broker", cfg.Broker),
			logger.Error(err))
		s.retryMQTT(client)
	}
	return client, nil
}

// retryMQTT keeps dialing until the first connect succeeds. paho handles
// reconnection after that.
func (s *Service) retryMQTT(client mqtt.Client) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(mqttRetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), mqttStartupTimeout)
			err := client.Connect(ctx)
			cancel()
			if err == nil {
				s.log.Info("connected to mqtt broker", logger.String("broker", s.settings.MQTT.Broker))
				return
			}
			s.log.Debug("mqtt connect attempt failed", logger.Error(err))
		}
	}()
	s.closers = append(s.closers, func() {
		close(stop)
		<-done
	})
}

func (s *Service) sessionLookup() (auth.SessionLookup, error) {
	if s.sessions != nil {
		return s.sessions, nil
	}
	if s.settings.Auth.JWTSecret == "" {
		s.log.Warn("auth.jwtsecret is empty, every API request will be rejected")
		return auth.StaticSessions{}, nil
	}
	return auth.NewJWTLookup([]byte(s.settings.Auth.JWTSecret), s.settings.Auth.Issuer, s.settings.Auth.CacheTTL)
}

// Run serves until ctx is cancelled, then shuts everything down in reverse
// order of construction.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.server.ShutdownTimeout())
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.close()
	return err
}

// Server returns the HTTP server.
func (s *Service) Server() *api.Server { return s.server }

// Metrics returns the service metrics registry.
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
