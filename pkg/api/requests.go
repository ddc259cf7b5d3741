package api

import (
	"time"

	"github.com/autoqa/autoqa/pkg/models"
)

// MaxTestCodeSize caps the submitted test code payload.
const MaxTestCodeSize = 1 << 20 // 1 MiB

// SubmitExecutionRequest is the body for POST /api/v1/executions.
type SubmitExecutionRequest struct {
	TestID   string                 `json:"test_id"`
	TestCode string                 `json:"test_code"`
	Config   models.ExecutionConfig `json:"config"`
	UserID   string                 `json:"user_id"`
	Priority int                    `json:"priority"` // 0..10
	Deadline time.Time              `json:"deadline,omitempty"`
}
