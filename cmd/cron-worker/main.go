package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recurforge/commerce-backend/internal/cron"
	"github.com/recurforge/commerce-backend/internal/gateways"
	gwpaypal "github.com/recurforge/commerce-backend/internal/gateways/paypal"
	gwsquare "github.com/recurforge/commerce-backend/internal/gateways/square"
	"github.com/recurforge/commerce-backend/internal/subscriptions"
	"github.com/recurforge/commerce-backend/pkg/config"
	"github.com/recurforge/commerce-backend/pkg/db"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/metrics"
	"github.com/recurforge/commerce-backend/pkg/migrate"
	"github.com/recurforge/commerce-backend/pkg/outbox"
	"github.com/recurforge/commerce-backend/pkg/paypal"
	"github.com/recurforge/commerce-backend/pkg/redis"
	"github.com/recurforge/commerce-backend/pkg/square"
)

const lockKeyFormat = "rf:cron-worker:lock:%s"

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

	paypalClient, err := paypal.NewClient(context.Background(), cfg.PayPal, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap paypal client", err)
		os.Exit(1)
	}

	registry := gateways.NewRegistry()
	paypalAdapter, err := gwpaypal.NewAdapter(paypalClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paypal adapter", err)
		os.Exit(1)
	}
	if err := registry.Register(paypalAdapter); err != nil {
		logg.Error(context.Background(), "failed to register paypal adapter", err)
		os.Exit(1)
	}
	if cfg.Square.AccessToken != "" {
		squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap square client", err)
			os.Exit(1)
		}
		squareAdapter, err := gwsquare.NewAdapter(squareClient, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create square adapter", err)
			os.Exit(1)
		}
		if err := registry.Register(squareAdapter); err != nil {
			logg.Error(context.Background(), "failed to register square adapter", err)
			os.Exit(1)
		}
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	subsRepo := subscriptions.NewRepository(dbClient.DB())
	subscriptionService, err := subscriptions.NewService(subsRepo, dbClient, outboxService, registry, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	sweepJob, err := cron.NewExpirationSweepJob(cron.ExpirationSweepJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repo:          subsRepo,
		Subscriptions: subscriptionService,
		Metrics:       metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiration sweep job", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewGatewayReconcileJob(cron.GatewayReconcileJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repo:          subsRepo,
		Subscriptions: subscriptionService,
		Registry:      registry,
		Metrics:       metricsCollector,
		Limit:         cfg.Cron.ReconcileLimit,
		Lookback:      cfg.Cron.ReconcileLookback,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway reconcile job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, reconcileJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
