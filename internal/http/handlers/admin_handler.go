package handlers

import (
	"crypto/subtle"
	"strconv"

	"github.com/bananaishere/kaspabox/internal/auth"
	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler serves the operator surface: login plus read-only views over
// deals and completed transfers.
type AdminHandler struct {
	store escrow.DealStore
	cfg   *config.Config
	log   *zap.Logger
}

func NewAdminHandler(store escrow.DealStore, cfg *config.Config, log *zap.Logger) *AdminHandler {
	return &AdminHandler{store: store, cfg: cfg, log: log}
}

func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req dto.AdminLoginRequest
	if err := c.BodyParser(&req); err != nil || req.Key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "key is required"})
	}

	if h.cfg.AdminKey == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "admin access disabled"})
	}
	if subtle.ConstantTimeCompare([]byte(req.Key), []byte(h.cfg.AdminKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid key"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, auth.RoleAdmin, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AdminLoginResponse{Token: token})
}

func (h *AdminHandler) ListDeals(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	deals, err := h.store.List(c.Context(), escrow.DealFilter{
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.log.Error("admin deal list failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

// ListTransfers reports the settlement legs of completed deals.
func (h *AdminHandler) ListTransfers(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	deals, err := h.store.ListByStatus(c.Context(), models.DealStatusCompleted, limit)
	if err != nil {
		h.log.Error("admin transfer list failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	transfers := make([]fiber.Map, 0, len(deals))
	for _, d := range deals {
		transfers = append(transfers, fiber.Map{
			"deal_id":            d.ID,
			"exchange_type":      d.ExchangeType,
			"party1_transfer_tx": d.Party1TransferTxID,
			"party2_transfer_tx": d.Party2TransferTxID,
			"fee_tx":             d.FeeTxID,
			"completed_at":       d.UpdatedAt,
		})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: transfers})
}

func (h *AdminHandler) GetDealEvents(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	events, err := h.store.ListEvents(c.Context(), dealID, 500)
	if err != nil {
		h.log.Error("admin event list failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}
