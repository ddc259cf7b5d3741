// Package models defines the domain entities shared across the control plane.
package models

import (
	"time"
)

// BrowserKind selects the browser engine for a test pod.
type BrowserKind string

// Supported browser engines.
const (
	BrowserChromium BrowserKind = "chromium"
	BrowserFirefox  BrowserKind = "firefox"
	BrowserWebkit   BrowserKind = "webkit"
)

// IsValid reports whether the browser kind is one of the supported engines.
func (b BrowserKind) IsValid() bool {
	switch b {
	case BrowserChromium, BrowserFirefox, BrowserWebkit:
		return true
	}
	return false
}

// Viewport is the browser window size for a test run.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultViewport is used when a capture or request does not specify one.
var DefaultViewport = Viewport{Width: 1920, Height: 1080}

// ExecutionConfig holds the per-request browser and scheduling settings.
type ExecutionConfig struct {
	Browser  BrowserKind       `json:"browser"`
	Viewport Viewport          `json:"viewport"`
	Headless bool              `json:"headless"`
	Timeout  time.Duration     `json:"timeout"`
	Retries  int               `json:"retries"`
	Parallel bool              `json:"parallel"`
	Env      map[string]string `json:"env,omitempty"`
}

// ExecutionRequest is a client request to run a test.
type ExecutionRequest struct {
	TestID   string          `json:"test_id"`
	TestCode string          `json:"test_code"`
	Config   ExecutionConfig `json:"config"`
	UserID   string          `json:"user_id"`
	Priority int             `json:"priority"` // 0..10
	Deadline time.Time       `json:"deadline,omitempty"`
}

// EstimatedBytes is the admission-control size of the request: the test code
// plus a fixed overhead for the envelope. Used by the flow controller's byte
// budget.
func (r *ExecutionRequest) EstimatedBytes() int64 {
	const envelopeOverhead = 512
	return int64(len(r.TestCode)) + envelopeOverhead
}

// ExecutionStatus is the canonical execution lifecycle state set.
type ExecutionStatus string

// Execution lifecycle states.
const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimedOut  ExecutionStatus = "timed_out"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ExecutionMetrics are the resource usage figures collected for a run.
type ExecutionMetrics struct {
	MemoryPeakBytes int64   `json:"memory_peak_bytes"`
	CPUSeconds      float64 `json:"cpu_seconds"`
	NetworkRequests int     `json:"network_requests"`
}

// Execution is a single admitted test run.
type Execution struct {
	ID          string           `json:"id"`
	TestID      string           `json:"test_id"`
	UserID      string           `json:"user_id"`
	Status      ExecutionStatus  `json:"status"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	EndedAt     time.Time        `json:"ended_at,omitempty"`
	ContainerID string           `json:"container_id,omitempty"`
	Metrics     ExecutionMetrics `json:"metrics"`
	ResultRef   string           `json:"result_ref,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Clone returns a copy safe to hand to callers outside the owning component.
func (e *Execution) Clone() Execution {
	out := *e
	return out
}

// ContainerHandle identifies an isolated browser pod. Exactly one handle
// exists per running execution; the container manager owns it.
type ContainerHandle struct {
	ContainerID string        `json:"container_id"`
	PodName     string        `json:"pod_name"`
	Namespace   string        `json:"namespace"`
	MemoryLimit int64         `json:"memory_limit_bytes"`
	CPULimit    float64       `json:"cpu_limit_cores"`
	Timeout     time.Duration `json:"timeout"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ContainerMetrics is the live resource snapshot for a container.
type ContainerMetrics struct {
	ContainerID     string  `json:"container_id"`
	MemoryUsage     int64   `json:"memory_usage_bytes"`
	CPUUsage        float64 `json:"cpu_usage_percent"` // 0..100
	NetworkRequests int     `json:"network_requests"`
}

// ContainerStatus is the coarse container lifecycle state.
type ContainerStatus string

// Container states reported by the runtime.
const (
	ContainerCreating ContainerStatus = "creating"
	ContainerRunning  ContainerStatus = "running"
	ContainerFinished ContainerStatus = "finished"
	ContainerFailed   ContainerStatus = "failed"
)

// TestResult is what a finished pod hands back on collection.
type TestResult struct {
	Success     bool             `json:"success"`
	Output      string           `json:"output"`
	Screenshots []string         `json:"screenshots,omitempty"`
	Artifacts   []string         `json:"artifacts,omitempty"`
	Metrics     ContainerMetrics `json:"metrics"`
	TotalSteps  int              `json:"total_steps"`
	DoneSteps   int              `json:"done_steps"`
	Stderr      string           `json:"stderr,omitempty"`

	// FailedLocator is set when the run broke on an element lookup. It
	// is what the self-healing engine works from.
	FailedLocator *LocatorFailure `json:"failed_locator,omitempty"`
}

// LocatorFailure identifies the element lookup that broke a failed run.
type LocatorFailure struct {
	Selector    string `json:"selector"`
	ElementType string `json:"element_type,omitempty"`
	DomSnapshot string `json:"dom_snapshot,omitempty"`
}
