package api

import (
	"net/http"
	"sort"
	"strings"

	echo "github.com/labstack/echo/v5"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /api/v1/health.
// Returns a minimal, safe response suitable for unauthenticated access. Only
// in-process components are checked; a provider with an open circuit degrades
// the report but never fails it, so orchestrators don't restart the control
// plane over an external outage.
func (s *Server) healthHandler(c *echo.Context) error {
	status := healthStatusHealthy
	checks := map[string]HealthCheck{
		"queue":        {Status: healthStatusHealthy},
		"event_stream": {Status: healthStatusHealthy},
	}

	if s.providers != nil {
		var unavailable []string
		for name, st := range s.providers.Status() {
			if !st.Available {
				unavailable = append(unavailable, name)
			}
		}
		if len(unavailable) > 0 {
			sort.Strings(unavailable)
			status = healthStatusDegraded
			checks["providers"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: "circuit open: " + strings.Join(unavailable, ", "),
			}
		} else {
			checks["providers"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status: status,
		Checks: checks,
	})
}
