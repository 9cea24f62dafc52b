package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/kitafinder-backend/api/controllers"
	"github.com/angelmondragon/kitafinder-backend/api/routes"
	"github.com/angelmondragon/kitafinder-backend/internal/accounts"
	"github.com/angelmondragon/kitafinder-backend/internal/billing"
	"github.com/angelmondragon/kitafinder-backend/internal/eventstore"
	"github.com/angelmondragon/kitafinder-backend/internal/listings"
	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	"github.com/angelmondragon/kitafinder-backend/internal/sideeffects"
	stripewebhook "github.com/angelmondragon/kitafinder-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/kitafinder-backend/pkg/config"
	"github.com/angelmondragon/kitafinder-backend/pkg/db"
	"github.com/angelmondragon/kitafinder-backend/pkg/instance"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/mailer"
	"github.com/angelmondragon/kitafinder-backend/pkg/metrics"
	"github.com/angelmondragon/kitafinder-backend/pkg/migrate"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox"
	"github.com/angelmondragon/kitafinder-backend/pkg/redis"
	"github.com/angelmondragon/kitafinder-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe verifier", err)
		os.Exit(1)
	}

	sender, err := mailer.New(cfg.Notifications, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap mailer", err)
		os.Exit(1)
	}
	catalog, err := notifications.LoadCatalog()
	if err != nil {
		logg.Error(context.Background(), "failed to load notification templates", err)
		os.Exit(1)
	}
	notifier, err := notifications.NewService(notifications.ServiceParams{
		Accounts: accounts.NewRepository(dbClient.DB()),
		Sender:   sender,
		Catalog:  catalog,
		BaseURL:  cfg.App.BaseURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	dispatcher, err := sideeffects.NewDispatcher(sideeffects.DispatcherParams{
		Listings:      listings.NewRepository(dbClient.DB()),
		Outbox:        outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Notifier:      notifier,
		Logger:        logg,
		NotifyTimeout: cfg.Notifications.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create side-effect dispatcher", err)
		os.Exit(1)
	}

	guard, err := stripewebhook.NewInFlightGuard(redisClient, cfg.Webhook.InFlightTTL, stripewebhook.InFlightScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create in-flight guard", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)
	billingRepo := billing.NewRepository(dbClient.DB())
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		EventStore:        eventstore.New(dbClient.DB()),
		Dispatcher:        dispatcher,
		Guard:             guard,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           webhookMetrics,
		ConflictRetries:   cfg.Webhook.ConflictRetries,
		Timeout:           cfg.Webhook.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing webhook service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     instance.ID(),
		"stripe_env":   stripeClient.Environment(),
		"email_active": cfg.Notifications.Enabled(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			Gatherer: prometheus.DefaultGatherer,
			Ready: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Webhooks:       webhookService,
			Verifier:       stripeClient,
			WebhookMetrics: webhookMetrics,
			Billing:        billingService,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logg.Info(ctx, "api server shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
