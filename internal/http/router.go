package http

import (
	"time"

	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/http/handlers"
	"github.com/bananaishere/kaspabox/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	dealHandler *handlers.DealHandler,
	metaHandler *handlers.MetaHandler,
	exchangeHandler *handlers.ExchangeHandler,
	cronHandler *handlers.CronHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Cron (shared-secret auth, not rate limited)
	api.Post("/cron/process-deposits", middleware.CronAuthMiddleware(cfg), cronHandler.ProcessDeposits)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Meta (public)
	api.Post("/meta/validate-address", metaHandler.ValidateAddress)
	api.Get("/meta/wallets", metaHandler.GetWallets)
	api.Get("/meta/chain", metaHandler.GetChainInfo)
	api.Get("/meta/addresses/:address/balance", metaHandler.GetAddressBalance)
	api.Get("/meta/addresses/:address/nfts", metaHandler.GetAddressNFTs)
	api.Get("/meta/transactions/:id", metaHandler.GetTransaction)
	api.Get("/meta/nfts/:tick/:id", metaHandler.GetNFT)

	// Deals (public, address-scoped)
	api.Post("/deals", dealHandler.CreateDeal)
	api.Get("/deals", dealHandler.ListDeals)
	api.Get("/deals/:id", dealHandler.GetDeal)
	api.Post("/deals/:id/join", dealHandler.JoinDeal)
	api.Post("/deals/:id/refresh", dealHandler.RefreshDeal)
	api.Get("/deals/:id/events", dealHandler.GetDealEvents)
	api.Get("/deals/:id/deposit-info", dealHandler.GetDepositInfo)

	// Swap + fiat on-ramp
	api.Get("/swap/currencies", exchangeHandler.GetCurrencies)
	api.Get("/swap/min-amount/:from/:to", exchangeHandler.GetMinAmount)
	api.Get("/swap/estimate/:from/:to", exchangeHandler.EstimateExchange)
	api.Post("/swap/transactions", exchangeHandler.CreateSwap)
	api.Get("/swap/transactions/:id", exchangeHandler.GetSwapStatus)
	api.Post("/fiat/estimate", exchangeHandler.EstimateFiat)
	api.Post("/fiat/orders", exchangeHandler.CreateFiatOrder)

	// Admin
	api.Post("/admin/login", adminHandler.Login)
	admin := api.Group("/admin", middleware.AdminAuthMiddleware(cfg, log))
	admin.Get("/deals", adminHandler.ListDeals)
	admin.Get("/transfers", adminHandler.ListTransfers)
	admin.Get("/deals/:id/events", adminHandler.GetDealEvents)
	admin.Post("/deals/:id/refresh", dealHandler.RefreshDeal)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
