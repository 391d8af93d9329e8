package auth

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Role is the permission level granted to an API client.
type Role string

const (
	// RoleReader may query timers, events and violations.
	RoleReader Role = "reader"
	// RoleIngest may additionally submit case events.
	RoleIngest Role = "ingest"
	// RoleOperator may additionally cancel timers, deactivate policies and acknowledge violations.
	RoleOperator Role = "operator"
)

// ParseRole normalizes a configured role; unknown values fall back to reader.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleOperator:
		return RoleOperator
	case RoleIngest:
		return RoleIngest
	default:
		return RoleReader
	}
}

// RequireRole ensures the client holds one of the allowed roles. Operators pass every check.
func RequireRole(allowed ...Role) fiber.Handler {
	allowedSet := make(map[Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if principal.Role == RoleOperator || len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}
