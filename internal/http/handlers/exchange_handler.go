package handlers

import (
	"context"
	"strconv"

	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/bananaishere/kaspabox/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SwapOrderStore keeps a local record of swaps opened through this service.
type SwapOrderStore interface {
	Create(ctx context.Context, o *models.SwapOrder) error
	UpdateStatus(ctx context.Context, providerID, status string) error
}

// ExchangeHandler exposes the swap and fiat on-ramp endpoints backed by the
// external exchange provider.
type ExchangeHandler struct {
	exchange *services.ExchangeClient
	fiat     *services.FiatClient
	orders   SwapOrderStore
	log      *zap.Logger
}

func NewExchangeHandler(exchange *services.ExchangeClient, fiat *services.FiatClient, orders SwapOrderStore, log *zap.Logger) *ExchangeHandler {
	return &ExchangeHandler{exchange: exchange, fiat: fiat, orders: orders, log: log}
}

func (h *ExchangeHandler) GetCurrencies(c *fiber.Ctx) error {
	currencies, err := h.exchange.GetCurrencies(c.Context())
	if err != nil {
		h.log.Warn("currencies fetch failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "exchange provider unavailable"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: currencies})
}

func (h *ExchangeHandler) GetMinAmount(c *fiber.Ctx) error {
	from := c.Params("from")
	to := c.Params("to")

	min, err := h.exchange.GetMinAmount(c.Context(), from, to)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "exchange provider unavailable"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"min_amount": min}})
}

func (h *ExchangeHandler) EstimateExchange(c *fiber.Ctx) error {
	from := c.Params("from")
	to := c.Params("to")

	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil || amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "amount must be a positive number"})
	}

	estimate, err := h.exchange.EstimateExchange(c.Context(), from, to, amount)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "exchange provider unavailable"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"estimated_amount": estimate}})
}

func (h *ExchangeHandler) CreateSwap(c *fiber.Ctx) error {
	var req dto.CreateSwapRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.FromCurrency == "" || req.ToCurrency == "" || req.Amount == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "from_currency, to_currency and amount are required"})
	}

	// Payouts in KAS must go to a valid Kaspa address.
	payout := req.PayoutAddress
	if req.ToCurrency == "kas" {
		normalized, err := kaspa.NormalizeAddress(payout)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid payout address"})
		}
		payout = normalized
	}

	tx, err := h.exchange.CreateSwap(c.Context(), services.CreateSwapInput{
		FromCurrency:  req.FromCurrency,
		ToCurrency:    req.ToCurrency,
		Amount:        req.Amount,
		PayoutAddress: payout,
		RefundAddress: req.RefundAddress,
	})
	if err != nil {
		h.log.Error("create swap failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	// The swap is already open with the provider; a failed local record
	// does not block the caller.
	order := &models.SwapOrder{
		ProviderID:    tx.ID,
		FromCurrency:  req.FromCurrency,
		ToCurrency:    req.ToCurrency,
		Amount:        req.Amount,
		PayinAddress:  tx.PayinAddress,
		PayoutAddress: payout,
		Status:        tx.Status,
	}
	if err := h.orders.Create(c.Context(), order); err != nil {
		h.log.Error("failed to record swap order",
			zap.String("provider_id", tx.ID),
			zap.Error(err),
		)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *ExchangeHandler) GetSwapStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "swap id is required"})
	}

	status, err := h.exchange.GetSwapStatus(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "exchange provider unavailable"})
	}

	if err := h.orders.UpdateStatus(c.Context(), id, status.Status); err != nil {
		h.log.Warn("failed to update swap order status",
			zap.String("provider_id", id),
			zap.Error(err),
		)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: status})
}

func (h *ExchangeHandler) EstimateFiat(c *fiber.Ctx) error {
	var req dto.FiatEstimateRequest
	if err := c.BodyParser(&req); err != nil || req.FromCurrency == "" || req.FromAmount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "from_currency and positive from_amount are required"})
	}

	estimate, err := h.fiat.EstimateFiatPurchase(c.Context(), req.FromCurrency, req.FromAmount)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "fiat provider unavailable"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: estimate})
}

func (h *ExchangeHandler) CreateFiatOrder(c *fiber.Ctx) error {
	var req dto.CreateFiatOrderRequest
	if err := c.BodyParser(&req); err != nil || req.FromCurrency == "" || req.FromAmount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "from_currency and positive from_amount are required"})
	}

	payout, err := kaspa.NormalizeAddress(req.PayoutAddress)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid payout address"})
	}

	order, err := h.fiat.CreateFiatOrder(c.Context(), services.FiatOrderInput{
		FromCurrency:  req.FromCurrency,
		FromAmount:    req.FromAmount,
		PayoutAddress: payout,
	})
	if err != nil {
		h.log.Error("create fiat order failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: order})
}
