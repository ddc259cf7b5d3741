package bus

import (
	"errors"
	"fmt"
)

// Sentinel errors for subscription admission and lookups.
var (
	ErrNoSuchChannel      = errors.New("no such channel")
	ErrNoSuchSubscription = errors.New("no such subscription")
)

// PermissionDeniedError is returned when a principal requests permissions
// the channel does not grant them.
type PermissionDeniedError struct {
	UserID    string
	ChannelID string
	Missing   string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %s denied %q on channel %s", e.UserID, e.Missing, e.ChannelID)
}

// LimitExceededError is returned when a subscription would exceed a
// per-user or per-channel cap.
type LimitExceededError struct {
	Scope string // "user" or "channel"
	ID    string
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s %s at subscription limit %d", e.Scope, e.ID, e.Limit)
}

// IsUserLimit reports whether err is a per-user limit rejection.
func IsUserLimit(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le) && le.Scope == "user"
}

// IsChannelLimit reports whether err is a per-channel limit rejection.
func IsChannelLimit(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le) && le.Scope == "channel"
}
