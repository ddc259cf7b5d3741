// Package events defines the control plane's event vocabulary and the
// publisher that fans typed payloads out to the subscription bus and the
// WebSocket event stream.
package events

// Event types published on execution channels.
const (
	EventTypeExecutionSubmitted = "execution.submitted"
	EventTypeExecutionStatus    = "execution.status"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeHealingEvent       = "healing.event"
	EventTypeBackpressureSignal = "backpressure.signal"
	EventTypeNotification       = "notification"
)

// GlobalExecutionsChannel carries execution-level status events for every
// execution. Dashboards subscribe here for the live execution list.
const GlobalExecutionsChannel = "executions"

// ExecutionChannel returns the channel name for one execution's events.
// Format: "execution:{execution_id}"
func ExecutionChannel(executionID string) string {
	return "execution:" + executionID
}

// UserChannel returns the channel name for one user's notifications.
// Format: "user:{user_id}"
func UserChannel(userID string) string {
	return "user:" + userID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action    string `json:"action"`               // "subscribe", "unsubscribe", "authenticate", "ping"
	Channel   string `json:"channel,omitempty"`    // channel name (e.g. "execution:abc-123")
	SessionID string `json:"session_id,omitempty"` // for authenticate
	Token     string `json:"token,omitempty"`      // for authenticate
}
