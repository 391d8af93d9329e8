package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/sla-engine/internal/api/http/handlers"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	CaseEvents     *handlers.CaseEventsHandler
	TimerEvents    *handlers.TimerEventsHandler
	Violations     *handlers.ViolationsHandler
	Policies       *handlers.PoliciesHandler
	Calendar       *handlers.CalendarHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	app.Post("/auth/token", cfg.Auth.Token)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	read := auth.RequireRole(auth.RoleReader, auth.RoleIngest)
	v1.Get("/cases/:caseId/timers", read, cfg.CaseEvents.Timers)
	v1.Get("/cases/:caseId/events", read, cfg.TimerEvents.ForCase)
	v1.Get("/cases/:caseId/violations", read, cfg.Violations.ListByCase)
	v1.Get("/timers/:id/events", read, cfg.TimerEvents.ForTimer)
	v1.Get("/violations/:id", read, cfg.Violations.Get)
	v1.Post("/calendar/business-minutes", read, cfg.Calendar.BusinessMinutes)

	v1.Post("/case-events", auth.RequireRole(auth.RoleIngest), cfg.CaseEvents.Ingest)

	operator := auth.RequireRole(auth.RoleOperator)
	v1.Post("/cases/:caseId/cancel", operator, cfg.CaseEvents.Cancel)
	v1.Post("/policies/:id/deactivate", operator, cfg.Policies.Deactivate)
	v1.Post("/violations/:id/acknowledge", operator, cfg.Violations.Acknowledge)
}
