package models

import "time"

// ChannelKind controls implicit permissions on a channel.
type ChannelKind string

// Channel kinds.
const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
	ChannelDirect  ChannelKind = "direct"
)

// Permission names used by channels, subscriptions and messages.
type Permission string

// Channel permissions.
const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

// Channel is a named event stream with per-permission principal lists.
// Public channels grant implicit read to every principal.
type Channel struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Kind        ChannelKind                 `json:"kind"`
	Permissions map[Permission][]string     `json:"permissions,omitempty"` // permission → principal ids
}

// Subscription binds a user to a channel with granted permissions and
// content filters.
type Subscription struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	ChannelID    string            `json:"channel_id"`
	Permissions  []Permission      `json:"permissions"`
	Filters      map[string]string `json:"filters,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
}

// Message is one published payload on a channel.
type Message struct {
	ID            string            `json:"id"`
	ChannelID     string            `json:"channel_id"`
	SenderID      string            `json:"sender_id"`
	Kind          string            `json:"kind"`
	Content       map[string]string `json:"content,omitempty"`
	Payload       []byte            `json:"payload,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	RequiredPerms []Permission      `json:"required_permissions,omitempty"`
}
