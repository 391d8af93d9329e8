package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/service"
)

// PoliciesHandler exposes policy retirement.
type PoliciesHandler struct {
	tracking *service.TrackingService
}

// NewPoliciesHandler constructs handler.
func NewPoliciesHandler(tracking *service.TrackingService) *PoliciesHandler {
	return &PoliciesHandler{tracking: tracking}
}

// Deactivate handles POST /v1/policies/:id/deactivate. Open timers created from the policy
// are cancelled.
func (h *PoliciesHandler) Deactivate(c *fiber.Ctx) error {
	policyID := c.Params("id")
	outcomes, err := h.tracking.DeactivatePolicy(c.UserContext(), policyID, actorOf(c))
	if err != nil && len(outcomes) == 0 {
		return err
	}
	timers := make([]dto.TimerResponse, 0, len(outcomes))
	for _, out := range outcomes {
		timers = append(timers, dto.NewTimerResponse(out.Timer))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"policy_id":        policyID,
		"cancelled_timers": timers,
	}})
}
