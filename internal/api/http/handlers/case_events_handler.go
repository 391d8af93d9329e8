package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/service"
	"github.com/spec-kit/sla-engine/internal/timer"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// CaseEventsHandler ingests case events and serves per-case timer operations.
type CaseEventsHandler struct {
	tracking *service.TrackingService
}

// NewCaseEventsHandler constructs handler.
func NewCaseEventsHandler(tracking *service.TrackingService) *CaseEventsHandler {
	return &CaseEventsHandler{tracking: tracking}
}

// Ingest handles POST /v1/case-events.
func (h *CaseEventsHandler) Ingest(c *fiber.Ctx) error {
	var req dto.CaseEventRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	event := req.ToDomain()
	outcomes, err := h.tracking.HandleCaseEvent(c.UserContext(), event)
	if err != nil && len(outcomes) == 0 {
		return err
	}
	resp := outcomeResponse(event.CaseID, outcomes)
	if err != nil {
		resp.Errors = strings.Split(err.Error(), "\n")
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": resp})
}

// Timers handles GET /v1/cases/:caseId/timers.
func (h *CaseEventsHandler) Timers(c *fiber.Ctx) error {
	list, err := h.tracking.CaseTimers(c.UserContext(), c.Params("caseId"))
	if err != nil {
		return err
	}
	items := make([]dto.TimerResponse, 0, len(list))
	for _, inst := range list {
		items = append(items, dto.NewTimerResponse(inst))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Cancel handles POST /v1/cases/:caseId/cancel.
func (h *CaseEventsHandler) Cancel(c *fiber.Ctx) error {
	caseID := c.Params("caseId")
	outcomes, err := h.tracking.CancelCase(c.UserContext(), caseID, actorOf(c))
	if err != nil && len(outcomes) == 0 {
		return err
	}
	return c.JSON(fiber.Map{"data": outcomeResponse(caseID, outcomes)})
}

func outcomeResponse(caseID string, outcomes []timer.Outcome) dto.CaseEventResponse {
	resp := dto.CaseEventResponse{CaseID: caseID, Timers: make([]dto.TimerResponse, 0, len(outcomes))}
	for _, out := range outcomes {
		resp.Timers = append(resp.Timers, dto.NewTimerResponse(out.Timer))
		if out.Violation != nil {
			resp.Violations = append(resp.Violations, out.Violation.ID)
		}
		resp.Escalations += len(out.Commands)
	}
	return resp
}

func actorOf(c *fiber.Ctx) string {
	if principal, ok := auth.PrincipalFromContext(c); ok {
		return principal.ClientID
	}
	return ""
}
