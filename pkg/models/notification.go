package models

import "time"

// NotificationKind classifies user-facing notifications.
type NotificationKind string

// Notification kinds.
const (
	NotifyTestCompleted NotificationKind = "test_completed"
	NotifyTestFailed    NotificationKind = "test_failed"
	NotifyHealingEvent  NotificationKind = "healing_event"
	NotifySystemAlert   NotificationKind = "system_alert"
)

// Notification is an append-only user-facing message.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Kind      NotificationKind  `json:"kind"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
