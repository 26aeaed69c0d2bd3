package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/mycomarket/mycomarket-backend/api/routes"
	"github.com/mycomarket/mycomarket-backend/internal/booking"
	"github.com/mycomarket/mycomarket-backend/internal/orders"
	"github.com/mycomarket/mycomarket-backend/internal/slots"
	"github.com/mycomarket/mycomarket-backend/internal/stock"
	"github.com/mycomarket/mycomarket-backend/internal/wallet"
	"github.com/mycomarket/mycomarket-backend/pkg/config"
	"github.com/mycomarket/mycomarket-backend/pkg/db"
	"github.com/mycomarket/mycomarket-backend/pkg/logger"
	"github.com/mycomarket/mycomarket-backend/pkg/migrate"
	"github.com/mycomarket/mycomarket-backend/pkg/outbox"
	"github.com/mycomarket/mycomarket-backend/pkg/redis"
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

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	stockSvc, err := stock.NewService(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create stock service", err)
		os.Exit(1)
	}

	slotsSvc, err := slots.NewService(slots.NewRepository(dbClient.DB()), stockSvc, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create slots service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())

	bookingSvc, err := booking.NewService(
		booking.NewRepository(dbClient.DB()),
		slotsSvc,
		stockSvc,
		ordersRepo,
		dbClient,
		outboxSvc,
		cfg.Marketplace.HoldDuration,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create booking service", err)
		os.Exit(1)
	}

	walletSvc, err := wallet.NewService(
		wallet.NewRepository(dbClient.DB()),
		dbClient,
		outboxSvc,
		cfg.Marketplace.Rate(),
		cfg.Marketplace.Settlement(),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(ordersRepo, dbClient, outboxSvc, bookingSvc, walletSvc, cfg.Marketplace.Settlement())
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, slotsSvc, bookingSvc, ordersSvc, walletSvc),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
