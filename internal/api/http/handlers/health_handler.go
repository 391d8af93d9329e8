package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency whose connectivity gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports readiness without a round trip.
type ReadyChecker interface {
	Ready() bool
}

// HealthHandler serves the liveness and readiness endpoints.
type HealthHandler struct {
	serviceName  string
	version      string
	deps         map[string]Pinger
	catalog      ReadyChecker
	activeTimers func() int
}

// NewHealthHandler returns a handler. Only the dependencies in deps are pinged;
// activeTimers may be nil.
func NewHealthHandler(serviceName, version string, deps map[string]Pinger, catalog ReadyChecker, activeTimers func() int) *HealthHandler {
	return &HealthHandler{
		serviceName:  serviceName,
		version:      version,
		deps:         deps,
		catalog:      catalog,
		activeTimers: activeTimers,
	}
}

// Live reports process liveness only.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready pings storage in parallel and checks the policy catalog breaker.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		status = fiber.Map{}
		ready  = true
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for name, dep := range h.deps {
		group.Go(func() error {
			result := "ok"
			err := dep.Ping(groupCtx)
			if err != nil {
				result = err.Error()
			}
			mu.Lock()
			status[name] = result
			ready = ready && err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if h.catalog != nil {
		if h.catalog.Ready() {
			status["policy_catalog"] = "ok"
		} else {
			status["policy_catalog"] = "circuit open"
			ready = false
		}
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "one or more dependencies unavailable",
				"details": status,
			},
		})
	}
	body := fiber.Map{"status": "ready", "dependencies": status}
	if h.activeTimers != nil {
		body["active_timers"] = h.activeTimers()
	}
	return c.JSON(body)
}
