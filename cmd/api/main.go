package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/db"
	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/events"
	apphttp "github.com/bananaishere/kaspabox/internal/http"
	"github.com/bananaishere/kaspabox/internal/http/handlers"
	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/bananaishere/kaspabox/internal/repositories"
	"github.com/bananaishere/kaspabox/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	dealRepo := repositories.NewDealRepo(pool)
	swapOrderRepo := repositories.NewSwapOrderRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Chain access
	kaspaClient := kaspa.NewClient(cfg.KaspaAPIURL, cfg.OracleTimeoutMS, cfg.OracleMaxRetries, log)
	treasury := services.NewTreasuryClient(cfg.TreasuryURL, cfg.TreasuryAPIKey, log)

	tolerance, err := kaspa.ParseKASToSompi(cfg.DepositTolerance)
	if err != nil {
		log.Fatal("invalid DEPOSIT_TOLERANCE_KAS", zap.Error(err))
	}
	flatFee, err := kaspa.ParseKASToSompi(cfg.FlatFeeKAS)
	if err != nil {
		log.Fatal("invalid FLAT_FEE_KAS", zap.Error(err))
	}

	// Escrow engine
	oracle := escrow.NewChainOracle(kaspaClient, treasury, cfg.EscrowAddress, tolerance, log)
	engine := escrow.NewEngine(dealRepo, oracle, publisher, escrow.Options{
		FeeAddress:   cfg.FeeAddress,
		FlatFeeSompi: flatFee,
	}, log)

	// Services
	dealService := services.NewDealService(dealRepo, engine, kaspaClient, publisher, cfg, log)
	exchangeClient := services.NewExchangeClient(cfg.ExchangeAPIURL, cfg.ExchangeAPIKey, log)
	fiatClient := services.NewFiatClient(cfg.FiatAPIURL, cfg.FiatAPIKey, cfg.FiatRateCacheTTL, log)

	// Handlers
	dealHandler := handlers.NewDealHandler(dealService, cfg, log)
	metaHandler := handlers.NewMetaHandler(cfg, kaspaClient, log)
	exchangeHandler := handlers.NewExchangeHandler(exchangeClient, fiatClient, swapOrderRepo, log)
	cronHandler := handlers.NewCronHandler(dealService, log)
	adminHandler := handlers.NewAdminHandler(dealRepo, cfg, log)
	wsHub := handlers.NewWSHub(subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, dealHandler, metaHandler, exchangeHandler, cronHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
