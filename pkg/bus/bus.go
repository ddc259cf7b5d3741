// Package bus implements the channel/subscription fan-out layer: permission
// checked subscriptions with content filters, bounded per user and per
// channel, and publish-time delivery to matching subscribers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/models"
)

// Handler receives messages delivered to one subscription.
type Handler func(msg *models.Message)

type subscriber struct {
	sub     *models.Subscription
	deliver Handler
}

// Bus routes published messages to subscribers. All three indexes
// (by id, by user, by channel) are updated atomically under one mutex,
// so an unsubscribed subscription can never receive a later publication.
type Bus struct {
	cfg    *config.BusConfig
	logger *slog.Logger

	mu        sync.RWMutex
	channels  map[string]*models.Channel
	subs      map[string]*subscriber            // subscription id → subscriber
	byUser    map[string]map[string]*subscriber // user id → subscription id → subscriber
	byChannel map[string]map[string]*subscriber // channel id → subscription id → subscriber
}

// NewBus creates an empty bus.
func NewBus(cfg *config.BusConfig) *Bus {
	return &Bus{
		cfg:       cfg,
		logger:    slog.With("component", "subscription_bus"),
		channels:  make(map[string]*models.Channel),
		subs:      make(map[string]*subscriber),
		byUser:    make(map[string]map[string]*subscriber),
		byChannel: make(map[string]map[string]*subscriber),
	}
}

// CreateChannel registers a channel and returns it. Public channels grant
// implicit read to every principal; private and direct channels only admit
// principals named in the permission lists.
func (b *Bus) CreateChannel(name string, kind models.ChannelKind, perms map[models.Permission][]string) *models.Channel {
	ch := &models.Channel{
		ID:          ids.NewID(),
		Name:        name,
		Kind:        kind,
		Permissions: perms,
	}

	b.mu.Lock()
	b.channels[ch.ID] = ch
	b.mu.Unlock()

	b.logger.Info("Channel created", "channel_id", ch.ID, "name", name, "kind", kind)
	return ch
}

// Channel returns a channel by id.
func (b *Bus) Channel(channelID string) (*models.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.channels[channelID]
	if !ok {
		return nil, ErrNoSuchChannel
	}
	return ch, nil
}

// Subscribe admits userID onto channelID with the requested permissions and
// content filters. It fails when the channel does not grant a requested
// permission, or when the user or channel is at its subscription cap.
func (b *Bus) Subscribe(userID, channelID string, perms []models.Permission, filters map[string]string, deliver Handler) (*models.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[channelID]
	if !ok {
		return nil, ErrNoSuchChannel
	}

	for _, p := range perms {
		if !channelGrants(ch, p, userID) {
			return nil, &PermissionDeniedError{UserID: userID, ChannelID: channelID, Missing: string(p)}
		}
	}
	if len(b.byUser[userID]) >= b.cfg.MaxSubscriptionsPerUser {
		return nil, &LimitExceededError{Scope: "user", ID: userID, Limit: b.cfg.MaxSubscriptionsPerUser}
	}
	if len(b.byChannel[channelID]) >= b.cfg.MaxSubscriptionsPerChannel {
		return nil, &LimitExceededError{Scope: "channel", ID: channelID, Limit: b.cfg.MaxSubscriptionsPerChannel}
	}

	now := time.Now()
	sub := &models.Subscription{
		ID:           ids.NewID(),
		UserID:       userID,
		ChannelID:    channelID,
		Permissions:  perms,
		Filters:      filters,
		CreatedAt:    now,
		LastActivity: now,
	}
	entry := &subscriber{sub: sub, deliver: deliver}

	b.subs[sub.ID] = entry
	if b.byUser[userID] == nil {
		b.byUser[userID] = make(map[string]*subscriber)
	}
	b.byUser[userID][sub.ID] = entry
	if b.byChannel[channelID] == nil {
		b.byChannel[channelID] = make(map[string]*subscriber)
	}
	b.byChannel[channelID][sub.ID] = entry

	b.logger.Debug("Subscription created",
		"subscription_id", sub.ID, "user_id", userID, "channel_id", channelID)
	return sub, nil
}

// Unsubscribe removes the subscription from every index. Once it returns,
// no future publication can deliver to the removed subscription.
func (b *Bus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(subscriptionID)
}

func (b *Bus) removeLocked(subscriptionID string) error {
	entry, ok := b.subs[subscriptionID]
	if !ok {
		return ErrNoSuchSubscription
	}
	delete(b.subs, subscriptionID)
	delete(b.byUser[entry.sub.UserID], subscriptionID)
	if len(b.byUser[entry.sub.UserID]) == 0 {
		delete(b.byUser, entry.sub.UserID)
	}
	delete(b.byChannel[entry.sub.ChannelID], subscriptionID)
	if len(b.byChannel[entry.sub.ChannelID]) == 0 {
		delete(b.byChannel, entry.sub.ChannelID)
	}
	return nil
}

// Publish delivers msg to every subscriber of its channel whose permissions
// and filters admit it, and returns the delivery count. Delivery updates the
// subscription's LastActivity.
func (b *Bus) Publish(msg *models.Message) (int, error) {
	if msg.ID == "" {
		msg.ID = ids.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	if _, ok := b.channels[msg.ChannelID]; !ok {
		b.mu.Unlock()
		return 0, ErrNoSuchChannel
	}
	now := time.Now()
	var targets []*subscriber
	for _, entry := range b.byChannel[msg.ChannelID] {
		if !permitted(entry.sub, msg) || !filtersMatch(entry.sub, msg) {
			continue
		}
		entry.sub.LastActivity = now
		targets = append(targets, entry)
	}
	b.mu.Unlock()

	// Handlers run outside the lock so a slow subscriber cannot stall
	// subscribe/unsubscribe traffic.
	for _, entry := range targets {
		entry.deliver(msg)
	}
	return len(targets), nil
}

// SubscriptionCount returns (per user, per channel) live subscription counts.
func (b *Bus) SubscriptionCount(userID, channelID string) (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byUser[userID]), len(b.byChannel[channelID])
}

// Subscriptions returns a snapshot of the user's subscriptions.
func (b *Bus) Subscriptions(userID string) []*models.Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.Subscription, 0, len(b.byUser[userID]))
	for _, entry := range b.byUser[userID] {
		out = append(out, entry.sub)
	}
	return out
}

// sweepExpired removes subscriptions idle longer than timeout and returns
// how many were removed.
func (b *Bus) sweepExpired(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []string
	for id, entry := range b.subs {
		if entry.sub.LastActivity.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		_ = b.removeLocked(id)
	}
	return len(expired)
}

// channelGrants reports whether the channel grants perm to userID.
func channelGrants(ch *models.Channel, perm models.Permission, userID string) bool {
	if ch.Kind == models.ChannelPublic && perm == models.PermRead {
		return true
	}
	return lo.Contains(ch.Permissions[perm], userID)
}

// permitted checks the message's required permissions against the
// subscription's granted set. Messages without requirements go to everyone.
func permitted(sub *models.Subscription, msg *models.Message) bool {
	if len(msg.RequiredPerms) == 0 {
		return true
	}
	return len(lo.Intersect(sub.Permissions, msg.RequiredPerms)) > 0
}

// filtersMatch requires every filter key to equal the message content value.
func filtersMatch(sub *models.Subscription, msg *models.Message) bool {
	for key, want := range sub.Filters {
		if msg.Content[key] != want {
			return false
		}
	}
	return true
}
