package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds one of roles. Admin holds all.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// CanManageDoctor reports whether the caller may change doctorID's calendar:
// admins may change any, doctors and secretaries only the one in their token.
func CanManageDoctor(ctx context.Context, doctorID string) bool {
	if HasRole(ctx, RoleAdmin) {
		return true
	}
	if !HasRole(ctx, RoleDoctor, RoleSecretary) {
		return false
	}
	own := DoctorIDFromContext(ctx)
	return own != "" && strings.EqualFold(own, doctorID)
}
