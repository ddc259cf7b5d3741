package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// providerStatusHandler handles GET /api/v1/providers/status.
// Returns the per-provider circuit and availability snapshot.
func (s *Server) providerStatusHandler(c *echo.Context) error {
	if s.providers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "provider pool not configured")
	}
	return c.JSON(http.StatusOK, s.providers.Status())
}
