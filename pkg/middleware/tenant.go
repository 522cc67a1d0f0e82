package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	utils "github.com/Ramsey-B/stem/pkg/context"
)

// HeaderAuthentication trusts X-Tenant-ID and X-User-ID headers. Local
// development and integration tests only; never enable behind real traffic.
func HeaderAuthentication() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get("X-Tenant-ID")
			if tenantID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing X-Tenant-ID header")
			}

			ctx := c.Request().Context()
			ctx = utils.SetTenantID(ctx, tenantID)
			if userID := c.Request().Header.Get("X-User-ID"); userID != "" {
				ctx = utils.SetUserID(ctx, userID)
			}

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
