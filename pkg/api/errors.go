package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/autoqa/autoqa/pkg/flow"
	"github.com/autoqa/autoqa/pkg/orchestrator"
	"github.com/autoqa/autoqa/pkg/session"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *orchestrator.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var bpErr *flow.BackpressureError
	if errors.As(err, &bpErr) {
		return echo.NewHTTPError(http.StatusTooManyRequests, bpErr.Error())
	}
	if orchestrator.IsNotFound(err) || session.IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, orchestrator.ErrShuttingDown) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service is shutting down")
	}
	if errors.Is(err, session.ErrConflictingRefresh) {
		return echo.NewHTTPError(http.StatusConflict, "a token refresh is already in progress")
	}
	if errors.Is(err, session.ErrTokenMismatch) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
