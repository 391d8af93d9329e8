package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-engine/internal/api/dto"
	"github.com/spec-kit/sla-engine/internal/calendar"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// CalendarHandler answers business-time questions for a calendar.
type CalendarHandler struct {
	resolver *calendar.Resolver
}

// NewCalendarHandler constructs handler.
func NewCalendarHandler(resolver *calendar.Resolver) *CalendarHandler {
	return &CalendarHandler{resolver: resolver}
}

// BusinessMinutes handles POST /v1/calendar/business-minutes.
func (h *CalendarHandler) BusinessMinutes(c *fiber.Ctx) error {
	var req dto.BusinessMinutesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Start.IsZero() {
		return apperrors.NewValidationError("start is required", nil)
	}
	if req.End == nil && req.TargetMinutes <= 0 {
		return apperrors.NewValidationError("end or target_minutes is required", nil)
	}
	cal, err := req.Calendar.ToCalendar()
	if err != nil {
		return err
	}
	if err := h.resolver.Validate(cal); err != nil {
		return err
	}

	var resp dto.BusinessMinutesResponse
	if resp.InBusinessTime, err = h.resolver.IsBusinessTime(req.Start, cal); err != nil {
		return err
	}
	if req.End != nil {
		if req.End.Before(req.Start) {
			return apperrors.NewValidationError("end must not precede start", nil)
		}
		minutes, err := h.resolver.BusinessMinutesBetween(req.Start, *req.End, cal)
		if err != nil {
			return err
		}
		resp.BusinessMinutes = &minutes
	}
	if req.TargetMinutes > 0 {
		due, err := h.resolver.AddBusinessDuration(req.Start, time.Duration(req.TargetMinutes)*time.Minute, cal)
		if err != nil {
			return err
		}
		resp.DueAt = &due
	}
	return c.JSON(fiber.Map{"data": resp})
}
