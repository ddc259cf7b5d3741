package models

import "time"

// ArtifactKind enumerates the capture artifact types.
type ArtifactKind string

// Artifact kinds. The kind is part of the blob key schema, so values are
// stable identifiers, not display names.
const (
	ArtifactScreenshot  ArtifactKind = "screenshot"
	ArtifactDomSnapshot ArtifactKind = "dom"
	ArtifactNetworkLog  ArtifactKind = "network"
)

// Artifact is the metadata record for one captured blob.
type Artifact struct {
	ID          string            `json:"id"`
	ExecutionID string            `json:"execution_id"`
	Kind        ArtifactKind      `json:"kind"`
	Timestamp   time.Time         `json:"timestamp"`
	BlobKey     string            `json:"blob_key"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata,omitempty"` // step_name, url, viewport, error
}

// ExecutionArtifacts is the finalized artifact bundle handed to the
// report assembler.
type ExecutionArtifacts struct {
	ExecutionID string
	TestID      string
	UserID      string
	Artifacts   []Artifact
	StartedAt   time.Time
	EndedAt     time.Time
	Status      ExecutionStatus
	TotalSteps  int
	DoneSteps   int
	Output      string
	Metrics     ExecutionMetrics
}
