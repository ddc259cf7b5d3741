package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/autoqa/autoqa/pkg/models"
)

// submitExecutionHandler handles POST /api/v1/executions.
// Admits the execution into the queue and returns immediately with its id;
// progress streams over the execution's WebSocket channel.
func (s *Server) submitExecutionHandler(c *echo.Context) error {
	var req SubmitExecutionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if len(req.TestCode) > MaxTestCodeSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("test code exceeds maximum size of %d bytes", MaxTestCodeSize))
	}

	input := &models.ExecutionRequest{
		TestID:   req.TestID,
		TestCode: req.TestCode,
		Config:   req.Config,
		UserID:   req.UserID,
		Priority: req.Priority,
		Deadline: req.Deadline,
	}
	if input.UserID == "" {
		input.UserID = extractUser(c)
	}

	exec, err := s.orch.Submit(c.Request().Context(), input)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, &SubmitResponse{
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
		Message:     "Execution queued",
	})
}

// getExecutionHandler handles GET /api/v1/executions/:id.
func (s *Server) getExecutionHandler(c *echo.Context) error {
	executionID := c.Param("id")
	if executionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	exec, err := s.orch.GetStatus(executionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// cancelExecutionHandler handles DELETE /api/v1/executions/:id.
// Idempotent: cancelling an unknown or already-terminal execution reports
// cancelled=false with status 200.
func (s *Server) cancelExecutionHandler(c *echo.Context) error {
	executionID := c.Param("id")
	if executionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	cancelled := s.orch.CancelExecution(executionID)
	return c.JSON(http.StatusOK, &CancelResponse{
		ExecutionID: executionID,
		Cancelled:   cancelled,
	})
}

// queueStatsHandler handles GET /api/v1/queue/stats.
func (s *Server) queueStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.GetQueueStats())
}
