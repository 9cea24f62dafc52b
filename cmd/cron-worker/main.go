package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/kitafinder-backend/internal/cron"
	"github.com/angelmondragon/kitafinder-backend/internal/eventstore"
	"github.com/angelmondragon/kitafinder-backend/pkg/config"
	"github.com/angelmondragon/kitafinder-backend/pkg/db"
	"github.com/angelmondragon/kitafinder-backend/pkg/instance"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/metrics"
	"github.com/angelmondragon/kitafinder-backend/pkg/migrate"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox"
	"github.com/angelmondragon/kitafinder-backend/pkg/redis"
)

const day = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:  logg,
		Metrics: metricsCollector,
		Targets: []cron.RetentionTarget{
			{
				Name:  "processed_events",
				Keep:  time.Duration(cfg.Retention.ProcessedEventDays) * day,
				Prune: eventstore.New(dbClient.DB()).DeleteReceivedBefore,
			},
			{
				Name:  "outbox_events",
				Keep:  time.Duration(cfg.Retention.OutboxDays) * day,
				Prune: outbox.NewRepository(dbClient.DB()).DeletePublishedBefore,
			},
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.RetentionJobName), cfg.Retention.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retention),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Retention.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
