package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/recurforge/commerce-backend/api/routes"
	checkoutsvc "github.com/recurforge/commerce-backend/internal/checkout"
	"github.com/recurforge/commerce-backend/internal/customers"
	"github.com/recurforge/commerce-backend/internal/gateways"
	gwpaypal "github.com/recurforge/commerce-backend/internal/gateways/paypal"
	gwsquare "github.com/recurforge/commerce-backend/internal/gateways/square"
	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/internal/subscriptions"
	paypalwebhook "github.com/recurforge/commerce-backend/internal/webhooks/paypal"
	"github.com/recurforge/commerce-backend/pkg/config"
	"github.com/recurforge/commerce-backend/pkg/db"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/migrate"
	"github.com/recurforge/commerce-backend/pkg/outbox"
	"github.com/recurforge/commerce-backend/pkg/paypal"
	"github.com/recurforge/commerce-backend/pkg/redis"
	"github.com/recurforge/commerce-backend/pkg/square"
)

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

	// Square is the optional on-site processor; boot without it when no
	// token is configured.
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
	ordersRepo := orders.NewRepository(dbClient.DB())
	subsRepo := subscriptions.NewRepository(dbClient.DB())

	customerService, err := customers.NewService(customers.ServiceParams{
		Repo:   customers.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create customer service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(ordersRepo, dbClient, outboxService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subsRepo, dbClient, outboxService, registry, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Tx:            dbClient,
		OrdersRepo:    ordersRepo,
		SubsRepo:      subsRepo,
		Orders:        orderService,
		Subscriptions: subscriptionService,
		Customers:     customerService,
		Registry:      registry,
		Outbox:        outboxService,
		Nonces:        redisClient,
		CaptureCfg:    cfg.Capture,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	paypalService, err := paypalwebhook.NewService(paypalwebhook.ServiceParams{
		Client:        paypalClient,
		Tx:            dbClient,
		Orders:        orderService,
		Subscriptions: subscriptionService,
		Customers:     customerService,
		Store:         redisClient,
		CaptureCfg:    cfg.Capture,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create paypal handler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"gateways": registry.IDs(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Checkout:      checkoutService,
			Customers:     customerService,
			Orders:        orderService,
			Subscriptions: subscriptionService,
			PayPal:        paypalService,
			Metrics:       prometheus.DefaultGatherer,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
