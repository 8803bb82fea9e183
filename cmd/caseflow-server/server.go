package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/caseflow/caseflow/internal/config"
	cc "github.com/caseflow/caseflow/internal/domain/clinicalcase"
	"github.com/caseflow/caseflow/internal/domain/consultation"
	"github.com/caseflow/caseflow/internal/domain/feedback"
	"github.com/caseflow/caseflow/internal/domain/notification"
	"github.com/caseflow/caseflow/internal/domain/testrequest"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/platform/docstore"
	"github.com/caseflow/caseflow/internal/platform/memstore"
	"github.com/caseflow/caseflow/internal/platform/middleware"
	"github.com/caseflow/caseflow/internal/platform/outbox"
	"github.com/caseflow/caseflow/internal/platform/telemetry"
	"github.com/caseflow/caseflow/internal/platform/websocket"
)

// backend is one storage driver with everything the server needs from it.
type backend struct {
	driver  string
	store   *cc.Store
	notes   notification.Repository
	pinger  db.Pinger
	details func() interface{}
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return &backend{
			driver:  cfg.StoreDriver,
			store:   cc.NewStorePG(pool),
			notes:   notification.NewRepoPG(pool),
			pinger:  pool,
			details: func() interface{} { return db.GetPoolStats(pool) },
			close:   pool.Close,
		}, nil

	case config.DriverMongo:
		database, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := ensureMongoIndexes(ctx, database); err != nil {
			_ = database.Client().Disconnect(context.Background())
			return nil, err
		}
		return &backend{
			driver: cfg.StoreDriver,
			store:  cc.NewStoreMongo(database),
			notes:  notification.NewRepoMongo(database),
			pinger: docstore.NewTransactor(database.Client()),
			close: func() {
				if err := database.Client().Disconnect(context.Background()); err != nil {
					logger.Warn().Err(err).Msg("mongodb disconnect failed")
				}
			},
		}, nil

	case config.DriverMemory:
		tx := memstore.NewTransactor()
		return &backend{
			driver: cfg.StoreDriver,
			store:  cc.NewStoreMemWith(tx, outbox.NewRepoMem()),
			notes:  notification.NewRepoMem(),
			pinger: tx,
			close:  func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func ensureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	for _, ensure := range []func(context.Context, *mongo.Database) error{
		cc.EnsureIndexesMongo,
		notification.EnsureIndexesMongo,
		outbox.EnsureIndexesMongo,
	} {
		if err := ensure(ctx, database); err != nil {
			return err
		}
	}
	return nil
}

type server struct {
	echo  *echo.Echo
	relay *outbox.Relay
	hub   *websocket.Hub
}

func newServer(cfg *config.Config, logger zerolog.Logger, b *backend) (*server, error) {
	store := b.store
	store.MaxAttempts = cfg.TransitionMaxAttempts

	hub := websocket.NewHub(logger)
	notifSvc := notification.NewService(b.notes, hub, logger)
	dispatcher := notification.NewDispatcher(store.Cases, notifSvc, logger)

	relay := outbox.NewRelay(store.Outbox, dispatcher, logger)
	relay.PollInterval = cfg.OutboxPollInterval
	relay.BatchSize = cfg.OutboxBatchSize
	relay.MaxAttempts = cfg.OutboxMaxAttempts
	if cfg.OutboxRetention > 0 {
		relay.Retention = cfg.OutboxRetention
	}
	store.OnCommit(relay.Notify)

	caseSvc, err := cc.NewService(store, cfg.HospitalIDPrefix)
	if err != nil {
		return nil, err
	}
	feedbackSvc, err := feedback.NewService(store)
	if err != nil {
		return nil, err
	}
	testSvc, err := testrequest.NewService(store, logger)
	if err != nil {
		return nil, err
	}
	consultSvc, err := consultation.NewService(store)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.Use(middleware.Audit(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(b.driver, b.pinger, b.details))
	e.GET("/metrics", echo.WrapHandler(telemetry.MetricsHandler()))

	apiV1 := e.Group("/api/v1")
	cc.NewHandler(caseSvc).RegisterRoutes(apiV1)
	feedback.NewHandler(feedbackSvc).RegisterRoutes(apiV1)
	testrequest.NewHandler(testSvc).RegisterRoutes(apiV1)
	consultation.NewHandler(consultSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifSvc).RegisterRoutes(apiV1)

	websocket.NewHandler(hub, func(c echo.Context) ([]string, error) {
		actor, err := auth.ActorFrom(c)
		if err != nil {
			return nil, err
		}
		return []string{notification.UserTopic(actor.ID)}, nil
	}).RegisterRoutes(e.Group(""))

	return &server{echo: e, relay: relay, hub: hub}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName:    "caseflow",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	flushSentry, err := telemetry.InitErrorReporting(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		return fmt.Errorf("setup error reporting: %w", err)
	}
	defer flushSentry()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()
	logger.Info().Str("driver", b.driver).Msg("connected to store")

	srv, err := newServer(cfg, logger, b)
	if err != nil {
		return err
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		srv.relay.Start(relayCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	stopRelay()
	<-relayDone
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("trace flush failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
