package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/db"
	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/events"
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

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	dealRepo := repositories.NewDealRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

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

	oracle := escrow.NewChainOracle(kaspaClient, treasury, cfg.EscrowAddress, tolerance, log)
	engine := escrow.NewEngine(dealRepo, oracle, publisher, escrow.Options{
		FeeAddress:   cfg.FeeAddress,
		FlatFeeSompi: flatFee,
	}, log)
	dealService := services.NewDealService(dealRepo, engine, kaspaClient, publisher, cfg, log)

	// Liveness endpoint for the orchestrator
	health := fiber.New(fiber.Config{DisableStartupMessage: true})
	health.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	go func() {
		if err := health.Listen(fmt.Sprintf(":%s", cfg.WorkerPort)); err != nil {
			log.Error("health server error", zap.Error(err))
		}
	}()

	log.Info("worker started", zap.Duration("poll_interval", cfg.PollInterval))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runRefreshCycle(ctx, dealService, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			_ = health.Shutdown()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runRefreshCycle(ctx context.Context, dealService *services.DealService, log *zap.Logger) {
	examined, err := dealService.ProcessOpenDeals(ctx)
	if err != nil {
		log.Error("refresh cycle failed", zap.Error(err))
		return
	}
	if examined > 0 {
		log.Info("refresh cycle done", zap.Int("examined", examined))
	}
}
