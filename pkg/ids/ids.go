// Package ids generates the identifiers used across the control plane:
// execution and container UUIDs, pod names, and sortable artifact timestamps.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PodNamePrefix is the fixed prefix for browser test pod names.
const PodNamePrefix = "autoqa-test-"

// sortableLayout formats timestamps so lexicographic order equals
// chronological order. Used in artifact blob keys.
const sortableLayout = "20060102T150405.000000000Z"

// NewExecutionID returns a fresh UUIDv4 for an execution.
func NewExecutionID() string {
	return uuid.NewString()
}

// NewContainerID returns a fresh UUIDv4 for a container.
func NewContainerID() string {
	return uuid.NewString()
}

// NewID returns a fresh UUIDv4 for generic entities (notifications,
// healing events, subscriptions, messages).
func NewID() string {
	return uuid.NewString()
}

// NewPodName returns a pod name of the form "autoqa-test-{8-hex}".
// The suffix is drawn from crypto/rand so names never repeat within
// a manager's lifetime.
func NewPodName() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read only fails if the OS entropy source is broken;
		// fall back to UUID-derived bytes rather than panic.
		u := uuid.New()
		copy(b[:], u[:4])
	}
	return PodNamePrefix + hex.EncodeToString(b[:])
}

// SortableTimestamp formats t (in UTC) so that string ordering matches
// time ordering.
func SortableTimestamp(t time.Time) string {
	return t.UTC().Format(sortableLayout)
}

// ParseSortableTimestamp parses a timestamp produced by SortableTimestamp.
func ParseSortableTimestamp(s string) (time.Time, error) {
	return time.Parse(sortableLayout, s)
}

// ArtifactKey builds the canonical blob key for an artifact:
//
//	artifacts/{testId}/{executionId}/{kind}/{sortable-timestamp}.{ext}
func ArtifactKey(testID, executionID, kind string, t time.Time, ext string) string {
	return fmt.Sprintf("artifacts/%s/%s/%s/%s.%s", testID, executionID, kind, SortableTimestamp(t), ext)
}
