package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/audit"
)

// TimerEventsHandler serves the audit trail.
type TimerEventsHandler struct {
	log *audit.Log
}

// NewTimerEventsHandler constructs handler.
func NewTimerEventsHandler(log *audit.Log) *TimerEventsHandler {
	return &TimerEventsHandler{log: log}
}

// ForTimer handles GET /v1/timers/:id/events.
func (h *TimerEventsHandler) ForTimer(c *fiber.Ctx) error {
	list, err := h.log.EventsForTimer(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTimerEventResponses(list)})
}

// ForCase handles GET /v1/cases/:caseId/events.
func (h *TimerEventsHandler) ForCase(c *fiber.Ctx) error {
	list, err := h.log.EventsForCase(c.UserContext(), c.Params("caseId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTimerEventResponses(list)})
}
