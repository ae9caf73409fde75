package handlers

import (
	"github.com/bananaishere/kaspabox/internal/http/dto"
	"github.com/bananaishere/kaspabox/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CronHandler drives the deposit refresh cycle from an external scheduler.
type CronHandler struct {
	dealService *services.DealService
	log         *zap.Logger
}

func NewCronHandler(dealService *services.DealService, log *zap.Logger) *CronHandler {
	return &CronHandler{dealService: dealService, log: log}
}

// ProcessDeposits runs one refresh pass over all open deals. Safe to call
// from overlapping schedules.
func (h *CronHandler) ProcessDeposits(c *fiber.Ctx) error {
	examined, err := h.dealService.ProcessOpenDeals(c.Context())
	if err != nil {
		h.log.Error("process deposits failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "processing failed"})
	}

	h.log.Info("processed open deals", zap.Int("examined", examined))
	return c.JSON(dto.ProcessDealsResponse{OK: true, Examined: examined})
}
