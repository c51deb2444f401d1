package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/catalog"
	"github.com/platinummonkey/rentshelf/pkg/config"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
	"github.com/platinummonkey/rentshelf/pkg/middleware"
	"github.com/platinummonkey/rentshelf/pkg/observability"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
	"github.com/platinummonkey/rentshelf/pkg/rental"
	"github.com/platinummonkey/rentshelf/pkg/reviews"
	"github.com/platinummonkey/rentshelf/pkg/storage/postgres"
	"github.com/platinummonkey/rentshelf/pkg/users"
)

const dbStatsInterval = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("rentshelf exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc("otel", providers.Shutdown)
	}

	conn, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("database", conn.Shutdown)
	db := conn.DB()
	logger.Info("Connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	}

	redisClient, err := postgres.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
		logger.Info("Connected to Redis")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		go collectDBStats(ctx, metrics, conn)
	}

	clock := clockwork.NewRealClock()

	var sink audit.Logger = audit.NoOpLogger{}
	if cfg.Audit.Enabled {
		dbSink, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}
		sink = dbSink
	}
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return sink.Close() })
	recorder := audit.NewRecorder(sink, clock, logger)

	rbacManager := rbac.NewManager(db, redisClient, metrics, recorder, logger, rbac.Config{
		CacheTTL:  cfg.RBAC.PermissionCacheTTL,
		CacheSize: cfg.RBAC.PermissionCacheSize,
		SeedFile:  cfg.Database.PermissionSeedFile,
	})
	seeded, err := rbacManager.Initialize(ctx)
	if err != nil {
		return err
	}
	logger.WithField("inserted", seeded).Info("Permission reference data seeded")

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clock)
	userService := users.NewService(
		users.NewStore(db),
		auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		tokens,
		rbacManager.Invalidator(),
		recorder,
		logger,
	)
	if cfg.Auth.BootstrapAdminUsername != "" {
		created, err := userService.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminUsername, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword)
		if err != nil {
			return err
		}
		if created {
			logger.WithField("username", cfg.Auth.BootstrapAdminUsername).Info("Bootstrap admin created")
		}
	}

	fees := rental.FeePolicy{GraceDays: cfg.Rental.GraceDays, DailyFee: decimal.NewFromInt(cfg.Rental.DailyFee)}
	engine := rbacManager.Engine()

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
		middleware.NewAuthMiddleware(tokens, userService.Store()).Handler,
	)

	rbacManager.RegisterRoutes(router)
	users.NewHandlers(userService, engine).RegisterRoutes(router, loginLimit(ctx, cfg, redisClient, logger))
	catalog.NewHandlers(catalog.NewStore(db), engine).RegisterRoutes(router)
	rental.NewHandlers(rental.NewService(db, clock, fees, metrics, recorder), engine).RegisterRoutes(router)
	reviews.NewHandlers(reviews.NewService(reviews.NewStore(db), metrics, recorder), engine).RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "rentshelf-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion).ExpectSchema(postgres.LatestVersion()))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	shutdown.AddServer(apiServer)
	shutdown.AddServer(healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("rentshelf API listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		shutdown.Wait(gctx)
		cancel()
		return shutdown.Shutdown()
	})

	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loginLimit throttles credential exchange per client IP, shared through
// redis when it is configured.
func loginLimit(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *observability.Logger) func(http.Handler) http.Handler {
	limits := middleware.LoginRateLimitConfig(cfg.Auth.LoginRatePerMin)
	if redisClient != nil {
		return middleware.RateLimitMiddleware(middleware.NewDistributedRateLimiter(redisClient, limits, "rentshelf:login"), limits, logger)
	}

	local := middleware.NewRateLimiter(limits)
	local.StartCleanup(ctx)
	return middleware.RateLimitMiddleware(local, limits, logger)
}

func collectDBStats(ctx context.Context, metrics *observability.Metrics, conn *postgres.ConnectionManager) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.CollectDBStats(conn.DB())
		case <-ctx.Done():
			return
		}
	}
}
