package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/auth"
	"github.com/acita-gmbh/eaf-sub013/config"
	"github.com/acita-gmbh/eaf-sub013/cqrs"
	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/projection"
	"github.com/acita-gmbh/eaf-sub013/ratelimit"
	"github.com/acita-gmbh/eaf-sub013/telemetry"
)

const serviceName = "eaf-server"

func main() {
	// --- Structured Logger ---
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("EAF_CONFIG_DIR"))
	if err != nil {
		logger.Fatal("configuration load failed", zap.Error(err))
	}

	// --- Vault Secret Loading (optional outside production) ---
	if cfg.Vault.Address != "" {
		sm, err := config.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token)
		if err != nil {
			logger.Fatal("Vault connection failed", zap.Error(err))
		}
		if err := cfg.ApplySecrets(sm, cfg.Vault.SecretPath); err != nil {
			logger.Fatal("failed to load secrets from Vault", zap.Error(err))
		}
		logger.Info("secrets loaded from Vault", zap.String("path", cfg.Vault.SecretPath))
	}

	// --- OpenTelemetry Tracer & Meter ---
	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), serviceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), serviceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// --- Schema Migration ---
	if err := eventstore.Migrate(cfg.Database.URL); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	// --- Database Connection Pool (instrumented with OTel) ---
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to parse database URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

	// --- Redis (revocation set + rate limiter) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// --- Token Validation Pipeline ---
	jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{cfg.JWT.DiscoveryURL})
	if err != nil {
		logger.Fatal("JWKS discovery failed", zap.Error(err))
	}
	validator := auth.NewTokenValidator(auth.Config{
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		MaxTokenBytes: cfg.JWT.MaxTokenBytes,
		ClockSkew:     cfg.ClockSkew(),
		MaxAge:        cfg.MaxTokenAge(),
	}, jwks.Keyfunc, logger,
		auth.WithRevocations(auth.NewRedisRevocationSet(rdb, logger)),
	)

	// --- NATS JetStream ---
	natsClient, err := projection.NewClient(cfg.NATS.URL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// --- Event Store & Dispatch Pipeline ---
	binder := eventstore.NewSessionBinder(cfg.Tenant.SessionVariable)
	store := eventstore.NewPostgresStore(pool, binder, logger)
	snapshots := eventstore.NewPostgresSnapshotStore(pool, binder)
	publisher := projection.NewPublisher(natsClient)
	correlation := cqrs.NewCorrelationProvider(auth.UserIDFromContext)
	limiter := ratelimit.New(rdb, cfg.Events.RateLimitPerSecond)
	tracer := otel.Tracer(serviceName)

	commandBus := cqrs.NewCommandBus(
		cqrs.TenantEnrichCommand(logger),
		cqrs.TracingInjectCommand(tracer),
		cqrs.MetricsCommand(),
	)
	queryBus := cqrs.NewQueryBus(
		cqrs.TenantEnrichQuery(logger),
		cqrs.SessionBindQuery(pool, binder),
		cqrs.MetricsQuery(),
	)
	eventBus := cqrs.NewEventBus(
		cqrs.TenantRestoreEvent(logger),
		cqrs.RateLimitEvent(limiter, logger),
		cqrs.TracingRestoreEvent(tracer),
		cqrs.MetricsEvent(),
	)

	if err := registerVmRequests(commandBus, queryBus, eventBus, store, snapshots, correlation, publisher, pool, binder, logger); err != nil {
		logger.Fatal("handler registration failed", zap.Error(err))
	}

	// --- Projection Host ---
	hostCtx, hostCancel := context.WithCancel(context.Background())
	defer hostCancel()

	host := projection.NewHost(natsClient, eventBus, cfg.NATS.Durable, logger)
	if err := host.Start(hostCtx); err != nil {
		logger.Fatal("projection host start failed", zap.Error(err))
	}

	// --- HTTP Server ---
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(serviceName))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(echomw.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", auth.Middleware(validator, logger))
	registerVmRequestRoutes(api, commandBus, queryBus, logger)

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")

	hostCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}

	natsClient.Close()
	logger.Info("shut down cleanly")
}
