package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/escrow"
	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/bananaishere/kaspabox/internal/models"
	"github.com/bananaishere/kaspabox/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DealHandler struct {
	dealService *services.DealService
	cfg         *config.Config
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, cfg *config.Config, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, cfg: cfg, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	party1Asset, err := assetFromPayload(req.Party1Asset)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: fmt.Sprintf("party1 asset: %v", err)})
	}
	party2Asset, err := assetFromPayload(req.Party2Asset)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: fmt.Sprintf("party2 asset: %v", err)})
	}

	deal, err := h.dealService.CreateDeal(c.Context(), services.CreateDealInput{
		Party1Address: req.Party1Address,
		Party2Address: req.Party2Address,
		Party1Asset:   party1Asset,
		Party2Asset:   party2Asset,
	})
	if err != nil {
		return dealError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	deal, err := h.dealService.GetDeal(c.Context(), id)
	if err != nil {
		return dealError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	filter := escrow.DealFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	filter.Status = c.Query("status")

	if v := c.Query("address"); v != "" {
		addr, err := kaspa.NormalizeAddress(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid address filter"})
		}
		filter.Address = addr
	}

	deals, err := h.dealService.ListDeals(c.Context(), filter)
	if err != nil {
		h.log.Error("list deals failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *DealHandler) JoinDeal(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	var req dto.JoinDealRequest
	if err := c.BodyParser(&req); err != nil || req.Party2Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "party2_address is required"})
	}

	deal, err := h.dealService.JoinDeal(c.Context(), id, req.Party2Address)
	if err != nil {
		return dealError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// RefreshDeal re-checks the chain for deposits and advances the deal if
// both sides have paid in. Idempotent; the UI polls it.
func (h *DealHandler) RefreshDeal(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	deal, err := h.dealService.RefreshDeal(c.Context(), id)
	if err != nil {
		return dealError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDealEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	events, err := h.dealService.GetDealEvents(c.Context(), id)
	if err != nil {
		h.log.Error("get deal events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}

// GetDepositInfo tells a party where to send their asset.
func (h *DealHandler) GetDepositInfo(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}

	deal, err := h.dealService.GetDeal(c.Context(), id)
	if err != nil {
		return dealError(c, h.log, err)
	}

	return c.JSON(dto.DepositInfoResponse{
		DealID:        deal.ID.String(),
		EscrowAddress: h.cfg.EscrowAddress,
		Status:        deal.Status,
	})
}

func assetFromPayload(p dto.AssetPayload) (models.Asset, error) {
	asset := models.Asset{
		Kind:     p.Kind,
		TokenID:  p.TokenID,
		Contract: p.Contract,
	}

	if p.Kind == models.AssetKindKAS {
		switch {
		case p.AmountSompi != "":
			amount, err := kaspa.ParseSompi(p.AmountSompi)
			if err != nil {
				return models.Asset{}, err
			}
			asset.AmountSompi = amount.String()
		case p.AmountKAS != "":
			amount, err := kaspa.ParseKASToSompi(p.AmountKAS)
			if err != nil {
				return models.Asset{}, err
			}
			asset.AmountSompi = amount.String()
		default:
			return models.Asset{}, fmt.Errorf("amount_kas or amount_sompi is required")
		}
	}

	return asset, nil
}

func dealError(c *fiber.Ctx, log *zap.Logger, err error) error {
	if errors.Is(err, escrow.ErrDealNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	}
	if errors.Is(err, escrow.ErrStaleStatus) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "deal changed concurrently, retry"})
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	log.Error("deal request failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
}
