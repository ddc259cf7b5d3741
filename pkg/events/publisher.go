package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autoqa/autoqa/pkg/bus"
	"github.com/autoqa/autoqa/pkg/models"
)

// Broadcaster receives a copy of every published event for a named channel.
// The WebSocket hub implements this to stream events to connected clients.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Publisher routes typed event payloads onto the subscription bus and to any
// registered broadcasters. Channels are created lazily on first publish:
// execution and global channels are public, user channels are direct with
// read granted only to the owning user.
//
// Each public method accepts a specific typed payload struct — see payloads.go.
type Publisher struct {
	bus *bus.Bus

	mu           sync.Mutex
	channelIDs   map[string]string // channel name → bus channel id
	broadcasters []Broadcaster
}

// NewPublisher creates a publisher on top of b.
func NewPublisher(b *bus.Bus) *Publisher {
	return &Publisher{
		bus:        b,
		channelIDs: make(map[string]string),
	}
}

// AddBroadcaster registers an additional event sink.
func (p *Publisher) AddBroadcaster(b Broadcaster) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasters = append(p.broadcasters, b)
}

// PublishExecutionSubmitted announces an admitted execution on its own
// channel and the global executions channel.
func (p *Publisher) PublishExecutionSubmitted(payload ExecutionSubmittedPayload) error {
	payload.Type = EventTypeExecutionSubmitted
	return p.publishExecutionScoped(payload.ExecutionID, payload.Type, payload)
}

// PublishExecutionStatus announces a lifecycle transition on the execution
// channel and the global executions channel. Both publishes are best-effort;
// the first error encountered is returned.
func (p *Publisher) PublishExecutionStatus(payload ExecutionStatusPayload) error {
	payload.Type = EventTypeExecutionStatus
	return p.publishExecutionScoped(payload.ExecutionID, payload.Type, payload)
}

// PublishExecutionCompleted announces a terminal execution.
func (p *Publisher) PublishExecutionCompleted(payload ExecutionCompletedPayload) error {
	payload.Type = EventTypeExecutionCompleted
	return p.publishExecutionScoped(payload.ExecutionID, payload.Type, payload)
}

// PublishHealingEvent announces a healing outcome on the execution channel.
func (p *Publisher) PublishHealingEvent(payload HealingEventPayload) error {
	payload.Type = EventTypeHealingEvent
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling HealingEventPayload: %w", err)
	}
	content := map[string]string{"type": payload.Type, "execution_id": payload.ExecutionID}
	return p.publish(ExecutionChannel(payload.ExecutionID), models.ChannelPublic, payload.Type, content, data, "")
}

// PublishBackpressureSignal broadcasts a flow control signal on the global
// executions channel.
func (p *Publisher) PublishBackpressureSignal(payload BackpressureSignalPayload) error {
	payload.Type = EventTypeBackpressureSignal
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling BackpressureSignalPayload: %w", err)
	}
	content := map[string]string{"type": payload.Type, "signal": payload.Signal}
	return p.publish(GlobalExecutionsChannel, models.ChannelPublic, payload.Type, content, data, "")
}

// PublishNotification delivers a notification on the owning user's channel.
func (p *Publisher) PublishNotification(payload NotificationPayload) error {
	payload.Type = EventTypeNotification
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling NotificationPayload: %w", err)
	}
	content := map[string]string{"type": payload.Type, "kind": string(payload.Kind)}
	return p.publish(UserChannel(payload.UserID), models.ChannelDirect, payload.Type, content, data, payload.UserID)
}

func (p *Publisher) publishExecutionScoped(executionID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	content := map[string]string{"type": eventType, "execution_id": executionID}

	var firstErr error
	if err := p.publish(ExecutionChannel(executionID), models.ChannelPublic, eventType, content, data, ""); err != nil {
		slog.Warn("Failed to publish to execution channel",
			"execution_id", executionID, "type", eventType, "error", err)
		firstErr = err
	}
	if err := p.publish(GlobalExecutionsChannel, models.ChannelPublic, eventType, content, data, ""); err != nil {
		slog.Warn("Failed to publish to global executions channel",
			"execution_id", executionID, "type", eventType, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// publish resolves the named channel (creating it on first use), publishes
// onto the bus, and fans a copy to every broadcaster.
func (p *Publisher) publish(channel string, kind models.ChannelKind, eventType string, content map[string]string, data []byte, owner string) error {
	channelID := p.ensureChannel(channel, kind, owner)

	msg := &models.Message{
		ChannelID: channelID,
		Kind:      eventType,
		Content:   content,
		Payload:   data,
		Timestamp: time.Now(),
	}
	if _, err := p.bus.Publish(msg); err != nil {
		return fmt.Errorf("publishing %s on %s: %w", eventType, channel, err)
	}

	p.mu.Lock()
	sinks := make([]Broadcaster, len(p.broadcasters))
	copy(sinks, p.broadcasters)
	p.mu.Unlock()
	for _, b := range sinks {
		b.Broadcast(channel, data)
	}
	return nil
}

func (p *Publisher) ensureChannel(name string, kind models.ChannelKind, owner string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.channelIDs[name]; ok {
		return id
	}
	var perms map[models.Permission][]string
	if owner != "" {
		perms = map[models.Permission][]string{
			models.PermRead: {owner},
		}
	}
	ch := p.bus.CreateChannel(name, kind, perms)
	p.channelIDs[name] = ch.ID
	return ch.ID
}

// ChannelID returns the bus channel id for a named channel, creating public
// channels on demand. Used by the WebSocket hub to attach subscriptions.
func (p *Publisher) ChannelID(name string, kind models.ChannelKind, owner string) string {
	return p.ensureChannel(name, kind, owner)
}
