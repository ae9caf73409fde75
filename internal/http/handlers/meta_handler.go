package handlers

import (
	"github.com/bananaishere/kaspabox/internal/config"
	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/kaspa"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type MetaHandler struct {
	cfg   *config.Config
	kaspa *kaspa.Client
	log   *zap.Logger
}

func NewMetaHandler(cfg *config.Config, kaspaClient *kaspa.Client, log *zap.Logger) *MetaHandler {
	return &MetaHandler{cfg: cfg, kaspa: kaspaClient, log: log}
}

// ValidateAddress checks and normalizes a Kaspa address for the UI.
func (h *MetaHandler) ValidateAddress(c *fiber.Ctx) error {
	var req dto.ValidateAddressRequest
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address is required"})
	}

	normalized, err := kaspa.NormalizeAddress(req.Address)
	if err != nil {
		return c.JSON(dto.ValidateAddressResponse{Valid: false, Error: err.Error()})
	}

	return c.JSON(dto.ValidateAddressResponse{
		Valid:      true,
		Normalized: normalized,
		Display:    kaspa.FormatAddress(normalized),
	})
}

// GetWallets exposes the service wallet addresses the UI shows to users.
func (h *MetaHandler) GetWallets(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"escrow_address": h.cfg.EscrowAddress,
		"fee_address":    h.cfg.FeeAddress,
		"fee_bps":        h.cfg.FeeBPS,
	}})
}

// GetChainInfo proxies network state from the Kaspa node.
func (h *MetaHandler) GetChainInfo(c *fiber.Ctx) error {
	info, err := h.kaspa.GetNetworkInfo(c.Context())
	if err != nil {
		h.log.Warn("chain info unavailable", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "kaspa network unavailable"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: info})
}

// GetAddressBalance proxies a balance lookup for the connected wallet.
func (h *MetaHandler) GetAddressBalance(c *fiber.Ctx) error {
	addr, err := kaspa.NormalizeAddress(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid address"})
	}

	balance, err := h.kaspa.GetBalance(c.Context(), addr)
	if err != nil {
		h.log.Warn("balance lookup failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "kaspa network unavailable"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"address":       addr,
		"balance_sompi": balance,
	}})
}

// GetAddressNFTs lists KRC-721 tokens held by an address.
func (h *MetaHandler) GetAddressNFTs(c *fiber.Ctx) error {
	addr, err := kaspa.NormalizeAddress(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid address"})
	}

	tokens, err := h.kaspa.GetNFTsByOwner(c.Context(), addr)
	if err != nil {
		h.log.Warn("nft lookup failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "indexer unavailable"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: tokens})
}

// GetTransaction proxies a transaction lookup, used by the UI to show
// settlement status.
func (h *MetaHandler) GetTransaction(c *fiber.Ctx) error {
	txID := c.Params("id")
	if txID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "transaction id is required"})
	}

	tx, err := h.kaspa.GetTransaction(c.Context(), txID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "transaction not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: tx})
}

// GetNFT returns metadata for a single token.
func (h *MetaHandler) GetNFT(c *fiber.Ctx) error {
	ref := c.Params("tick") + ":" + c.Params("id")
	token, err := h.kaspa.GetNFT(c.Context(), ref)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "token not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: token})
}
