package events

import "github.com/autoqa/autoqa/pkg/models"

// ExecutionSubmittedPayload is the payload for execution.submitted events.
// Published when an execution request clears admission control.
type ExecutionSubmittedPayload struct {
	Type        string `json:"type"`         // always EventTypeExecutionSubmitted
	ExecutionID string `json:"execution_id"` // execution UUID
	TestID      string `json:"test_id"`
	Priority    int    `json:"priority"`  // 0..10 as submitted
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// ExecutionStatusPayload is the payload for execution.status events.
// Single event type for all execution lifecycle transitions.
type ExecutionStatusPayload struct {
	Type        string                 `json:"type"`         // always EventTypeExecutionStatus
	ExecutionID string                 `json:"execution_id"` // execution UUID
	Status      models.ExecutionStatus `json:"status"`       // pending, running, completed, failed, timed_out, cancelled
	Timestamp   string                 `json:"timestamp"`    // RFC3339Nano
}

// ExecutionCompletedPayload is the payload for execution.completed events.
// Published once per execution when it reaches a terminal status.
type ExecutionCompletedPayload struct {
	Type        string                 `json:"type"`         // always EventTypeExecutionCompleted
	ExecutionID string                 `json:"execution_id"` // execution UUID
	TestID      string                 `json:"test_id"`
	Status      models.ExecutionStatus `json:"status"`
	DurationMs  int64                  `json:"duration_ms"`
	TotalSteps  int                    `json:"total_steps"`
	DoneSteps   int                    `json:"done_steps"`
	Error       string                 `json:"error,omitempty"`
	Timestamp   string                 `json:"timestamp"` // RFC3339Nano
}

// HealingEventPayload is the payload for healing.event events.
type HealingEventPayload struct {
	Type          string  `json:"type"`     // always EventTypeHealingEvent
	EventID       string  `json:"event_id"` // healing event UUID
	ExecutionID   string  `json:"execution_id"`
	OldSelector   string  `json:"old_selector"`
	NewSelector   string  `json:"new_selector,omitempty"`
	Strategy      string  `json:"strategy,omitempty"` // winning strategy (empty on failure)
	Success       bool    `json:"success"`
	Confidence    float64 `json:"confidence"`
	AttemptsCount int     `json:"attempts_count"`
	Timestamp     string  `json:"timestamp"` // RFC3339Nano
}

// BackpressureSignalPayload is the payload for backpressure.signal events.
// Broadcast on the global executions channel so producers can throttle.
type BackpressureSignalPayload struct {
	Type        string  `json:"type"`             // always EventTypeBackpressureSignal
	Signal      string  `json:"signal"`           // slow_down, resume, pause, drop_messages
	Reason      string  `json:"reason,omitempty"` // memory_pressure, buffer_overflow, slow_consumer
	Utilization float64 `json:"utilization"`      // 0..1
	Timestamp   string  `json:"timestamp"`        // RFC3339Nano
}

// NotificationPayload is the payload for notification events on user channels.
type NotificationPayload struct {
	Type           string                  `json:"type"`            // always EventTypeNotification
	NotificationID string                  `json:"notification_id"` // notification UUID
	UserID         string                  `json:"user_id"`
	Kind           models.NotificationKind `json:"kind"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	Metadata       map[string]string       `json:"metadata,omitempty"`
	Timestamp      string                  `json:"timestamp"` // RFC3339Nano
}
