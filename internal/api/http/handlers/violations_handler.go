package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/service"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// ViolationsHandler serves violation records and their review.
type ViolationsHandler struct {
	service *service.ViolationService
}

// NewViolationsHandler constructs handler.
func NewViolationsHandler(violations *service.ViolationService) *ViolationsHandler {
	return &ViolationsHandler{service: violations}
}

// Get handles GET /v1/violations/:id.
func (h *ViolationsHandler) Get(c *fiber.Ctx) error {
	v, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewViolationResponse(v)})
}

// ListByCase handles GET /v1/cases/:caseId/violations.
func (h *ViolationsHandler) ListByCase(c *fiber.Ctx) error {
	list, err := h.service.ListByCase(c.UserContext(), c.Params("caseId"))
	if err != nil {
		return err
	}
	items := make([]dto.ViolationResponse, 0, len(list))
	for i := range list {
		items = append(items, dto.NewViolationResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Acknowledge handles POST /v1/violations/:id/acknowledge.
func (h *ViolationsHandler) Acknowledge(c *fiber.Ctx) error {
	var req dto.AcknowledgeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	v, err := h.service.Acknowledge(c.UserContext(), c.Params("id"), actorOf(c), service.AcknowledgeInput{
		RootCause: req.RootCause,
		Notes:     req.Notes,
		Resolved:  req.Resolved,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewViolationResponse(v)})
}
