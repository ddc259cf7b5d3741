// Package notify stores and delivers user-facing notifications. Every
// notification is retained in a bounded per-user buffer, published on the
// owner's event channel, and mirrored to Slack for terminal test results
// and system alerts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/slack"
)

// Notifier is the append-only notification store and fan-out point.
type Notifier struct {
	cfg       *config.NotifyConfig
	publisher *events.Publisher
	slack     *slack.Service // nil-safe
	logger    *slog.Logger

	mu     sync.RWMutex
	byUser map[string][]*models.Notification
}

// NewNotifier creates a notifier. slackSvc may be nil.
func NewNotifier(cfg *config.NotifyConfig, publisher *events.Publisher, slackSvc *slack.Service) *Notifier {
	return &Notifier{
		cfg:       cfg,
		publisher: publisher,
		slack:     slackSvc,
		logger:    slog.With("component", "notifier"),
		byUser:    make(map[string][]*models.Notification),
	}
}

// Notify stores n, publishes it on the owner's channel, and mirrors
// terminal test results and system alerts to Slack. Delivery is
// best-effort: publish failures are logged, the stored notification is
// authoritative.
func (n *Notifier) Notify(ctx context.Context, notification *models.Notification) *models.Notification {
	if notification.ID == "" {
		notification.ID = ids.NewID()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	n.mu.Lock()
	buf := append(n.byUser[notification.UserID], notification)
	if excess := len(buf) - n.cfg.PerUserBuffer; excess > 0 {
		buf = buf[excess:]
	}
	n.byUser[notification.UserID] = buf
	n.mu.Unlock()

	if err := n.publisher.PublishNotification(events.NotificationPayload{
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		Kind:           notification.Kind,
		Title:          notification.Title,
		Message:        notification.Message,
		Metadata:       stringifyMetadata(notification.Metadata),
		Timestamp:      notification.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		n.logger.Warn("Failed to publish notification",
			"notification_id", notification.ID, "user_id", notification.UserID, "error", err)
	}

	switch notification.Kind {
	case models.NotifySystemAlert:
		n.slack.NotifySystemAlert(ctx, notification.Title, notification.Message)
	case models.NotifyTestCompleted, models.NotifyTestFailed:
		n.slack.NotifyExecutionCompleted(ctx, slack.ExecutionCompletedInput{
			ExecutionID:  metaString(notification.Metadata, "execution_id"),
			TestID:       metaString(notification.Metadata, "test_id"),
			Status:       metaString(notification.Metadata, "status"),
			ErrorMessage: metaString(notification.Metadata, "error"),
		})
	}

	return notification
}

// List returns the retained notifications for userID, oldest first.
func (n *Notifier) List(userID string) []*models.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*models.Notification, len(n.byUser[userID]))
	copy(out, n.byUser[userID])
	return out
}

func stringifyMetadata(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
