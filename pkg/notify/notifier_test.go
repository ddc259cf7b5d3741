package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa/autoqa/pkg/bus"
	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/slack"
)

func newTestNotifier(perUser int) (*Notifier, *events.Publisher, *bus.Bus) {
	b := bus.NewBus(config.DefaultBusConfig())
	p := events.NewPublisher(b)
	n := NewNotifier(&config.NotifyConfig{PerUserBuffer: perUser}, p, nil)
	return n, p, b
}

func TestNotifier_StoresAndAssignsIdentity(t *testing.T) {
	n, _, _ := newTestNotifier(10)

	stored := n.Notify(context.Background(), &models.Notification{
		UserID: "alice",
		Kind:   models.NotifyTestCompleted,
		Title:  "Test Passed",
	})

	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	got := n.List("alice")
	require.Len(t, got, 1)
	assert.Equal(t, stored.ID, got[0].ID)
	assert.Empty(t, n.List("bob"))
}

func TestNotifier_BufferEvictsOldest(t *testing.T) {
	n, _, _ := newTestNotifier(3)

	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), &models.Notification{
			UserID: "alice",
			Kind:   models.NotifyTestCompleted,
			Title:  fmt.Sprintf("n%d", i),
		})
	}

	got := n.List("alice")
	require.Len(t, got, 3)
	assert.Equal(t, "n2", got[0].Title)
	assert.Equal(t, "n4", got[2].Title)
}

func TestNotifier_PublishesOnUserChannel(t *testing.T) {
	n, p, b := newTestNotifier(10)

	// Channel exists once the first notification for the user is published.
	n.Notify(context.Background(), &models.Notification{
		UserID: "alice",
		Kind:   models.NotifyHealingEvent,
		Title:  "Self-Healing Success",
	})

	chID := p.ChannelID(events.UserChannel("alice"), models.ChannelDirect, "alice")
	var delivered []*models.Message
	_, err := b.Subscribe("alice", chID, []models.Permission{models.PermRead}, nil, func(m *models.Message) {
		delivered = append(delivered, m)
	})
	require.NoError(t, err)

	n.Notify(context.Background(), &models.Notification{
		UserID:  "alice",
		Kind:    models.NotifyTestFailed,
		Title:   "Test Failed",
		Message: "checkout flow broke",
	})

	require.Len(t, delivered, 1)
	assert.Equal(t, events.EventTypeNotification, delivered[0].Kind)
}

// Non-string metadata values (healing confidence, attempt counts) are
// formatted, not dropped, so subscribers see the same metadata the store
// keeps.
func TestNotifier_PublishedMetadataKeepsNonStringValues(t *testing.T) {
	n, p, b := newTestNotifier(10)

	n.Notify(context.Background(), &models.Notification{
		UserID: "alice",
		Kind:   models.NotifyHealingEvent,
		Title:  "Self-Healing Success",
	})

	chID := p.ChannelID(events.UserChannel("alice"), models.ChannelDirect, "alice")
	var delivered []*models.Message
	_, err := b.Subscribe("alice", chID, []models.Permission{models.PermRead}, nil, func(m *models.Message) {
		delivered = append(delivered, m)
	})
	require.NoError(t, err)

	n.Notify(context.Background(), &models.Notification{
		UserID: "alice",
		Kind:   models.NotifyHealingEvent,
		Title:  "Self-Healing Success",
		Metadata: map[string]any{
			"oldSelector":   "#submit-btn",
			"confidence":    0.95,
			"attemptsCount": 2,
		},
	})

	require.Len(t, delivered, 1)
	var payload events.NotificationPayload
	require.NoError(t, json.Unmarshal(delivered[0].Payload, &payload))
	assert.Equal(t, "#submit-btn", payload.Metadata["oldSelector"])
	assert.Equal(t, "0.95", payload.Metadata["confidence"])
	assert.Equal(t, "2", payload.Metadata["attemptsCount"])
}

// Terminal test results are mirrored to Slack when a service is configured.
func TestNotifier_MirrorsTerminalResultToSlack(t *testing.T) {
	var mu sync.Mutex
	var blocks []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		blocks = append(blocks, r.FormValue("blocks"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1"}`))
	}))
	defer srv.Close()

	svc := slack.NewServiceWithClient(
		slack.NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/"), "https://dash.example.com")
	b := bus.NewBus(config.DefaultBusConfig())
	n := NewNotifier(&config.NotifyConfig{PerUserBuffer: 10}, events.NewPublisher(b), svc)

	n.Notify(context.Background(), &models.Notification{
		UserID:  "alice",
		Kind:    models.NotifyTestFailed,
		Title:   "Test Run Failed",
		Message: "checkout flow broke",
		Metadata: map[string]any{
			"execution_id": "exec-1",
			"test_id":      "t-1",
			"status":       "failed",
			"error":        "assertion failed",
		},
	})

	// Healing events stay off Slack.
	n.Notify(context.Background(), &models.Notification{
		UserID: "alice",
		Kind:   models.NotifyHealingEvent,
		Title:  "Self-Healing Success",
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0], "t-1")
	assert.Contains(t, blocks[0], "Test Run Failed")
	assert.Contains(t, blocks[0], "assertion failed")
	assert.Contains(t, blocks[0], "https://dash.example.com/executions/exec-1")
}

func TestNotifier_NilSlackServiceIsSafe(t *testing.T) {
	n, _, _ := newTestNotifier(10)

	// SystemAlert with no Slack sink configured must not panic.
	n.Notify(context.Background(), &models.Notification{
		UserID:  "ops",
		Kind:    models.NotifySystemAlert,
		Title:   "Healing Engine Error",
		Message: "internal error",
	})

	assert.Len(t, n.List("ops"), 1)
}
