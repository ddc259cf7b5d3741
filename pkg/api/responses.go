package api

// SubmitResponse is returned by POST /api/v1/executions.
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

// CancelResponse is returned by DELETE /api/v1/executions/:id.
type CancelResponse struct {
	ExecutionID string `json:"execution_id"`
	Cancelled   bool   `json:"cancelled"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
