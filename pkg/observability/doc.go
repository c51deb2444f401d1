// Package observability provides structured logging, Prometheus metrics, health
// checks, graceful shutdown and OpenTelemetry tracing.
//
// # Structured Logging
//
// The Logger is backed by logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("book_id", id).Info("book returned")
//
// Request-scoped loggers carry the request and user IDs:
//
//	observability.FromContext(ctx).WithError(err).Error("return failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveReturn("UNPAID", 400)
//
// A nil *Metrics records nothing, which keeps services usable in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer("rental").Start(ctx, "rental.CreateRent")
package observability
