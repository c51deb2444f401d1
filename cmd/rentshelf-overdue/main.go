package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/config"
	"github.com/platinummonkey/rentshelf/pkg/observability"
	"github.com/platinummonkey/rentshelf/pkg/rental"
	"github.com/platinummonkey/rentshelf/pkg/storage/postgres"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for the overdue sweep (default: RENTSHELF_OVERDUE_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Run the sweep once and exit")
	timeout  = flag.Duration("timeout", 5*time.Minute, "Deadline for a single sweep")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *schedule == "" {
		*schedule = cfg.Rental.OverdueSchedule
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout).
		WithField("component", "overdue-sweep")

	conn, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		URL:      cfg.Database.URL,
		MaxConns: 2,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	clock := clockwork.NewRealClock()
	var sink audit.Logger = audit.NoOpLogger{}
	if cfg.Audit.Enabled {
		if sink, err = audit.NewDBLogger(conn.DB()); err != nil {
			log.Fatalf("Failed to open audit log: %v", err)
		}
	}
	defer sink.Close()

	fees := rental.FeePolicy{GraceDays: cfg.Rental.GraceDays, DailyFee: decimal.NewFromInt(cfg.Rental.DailyFee)}
	service := rental.NewService(conn.DB(), clock, fees, nil, audit.NewRecorder(sink, clock, logger))

	if *runOnce {
		if err := sweep(service, logger); err != nil {
			log.Fatalf("Overdue sweep failed: %v", err)
		}
		return
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err = c.AddFunc(*schedule, func() {
		defer observability.RecoverPanic(logger, "overdue sweep")
		if err := sweep(service, logger); err != nil {
			logger.WithError(err).Error("Overdue sweep failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule overdue sweep: %v", err)
	}

	c.Start()
	logger.Infof("Overdue sweep scheduled: %s", *schedule)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Wait(context.Background())

	// Let a running sweep finish before the pool closes.
	<-c.Stop().Done()
	logger.Info("Overdue sweep stopped")
}

func sweep(service *rental.Service, logger *observability.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ids, err := service.MarkOverdue(ctx)
	if err != nil {
		return err
	}
	logger.WithField("marked", len(ids)).Info("Overdue sweep complete")
	return nil
}
