package models

import "time"

// ElementLocation is the last known placement of a page element, used by
// location- and vision-based healing strategies.
type ElementLocation struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	VisualHash string `json:"visual_hash,omitempty"`
}

// HealingContext carries everything known about a broken locator.
type HealingContext struct {
	ExecutionID      string            `json:"execution_id"`
	OriginalSelector string            `json:"original_selector"`
	ElementType      string            `json:"element_type"`
	LastKnownLoc     *ElementLocation  `json:"last_known_location,omitempty"`
	DomSnapshot      string            `json:"dom_snapshot,omitempty"`
	Screenshot       []byte            `json:"-"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// HealingAttempt records one strategy invocation. Appended to the attempt
// log before the next strategy starts.
type HealingAttempt struct {
	Strategy        string  `json:"strategy"`
	Selector        string  `json:"selector,omitempty"`
	Confidence      float64 `json:"confidence"` // 0..1
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
}

// HealingEvent is the outcome of one heal() run.
type HealingEvent struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id"`
	OldSelector string           `json:"old_selector"`
	NewSelector string           `json:"new_selector,omitempty"`
	Strategy    string           `json:"strategy,omitempty"` // winning strategy on success
	Success     bool             `json:"success"`
	Confidence  float64          `json:"confidence"`
	Attempts    []HealingAttempt `json:"attempts"`
	Timestamp   time.Time        `json:"timestamp"`
}
