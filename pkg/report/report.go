// Package report assembles finalized execution artifacts into a test report
// and renders it as JSON, HTML, or PDF. All formats present the same
// semantic content; only the serialization differs.
package report

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/version"
)

// ReportVersion identifies the report schema.
const ReportVersion = "1.2"

// Summary statuses. Execution lifecycle states collapse onto the reporting
// vocabulary: completed runs pass, failed and timed-out runs fail, cancelled
// runs are skipped.
const (
	SummaryPassed  = "passed"
	SummaryFailed  = "failed"
	SummarySkipped = "skipped"
)

// ExecutionSummary is the headline result block.
type ExecutionSummary struct {
	ExecutionID    string        `json:"execution_id"`
	TestID         string        `json:"test_id"`
	UserID         string        `json:"user_id"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	Duration       time.Duration `json:"duration"`
	TotalSteps     int           `json:"total_steps"`
	CompletedSteps int           `json:"completed_steps"`
	Status         string        `json:"status"` // passed, failed, skipped
}

// TimelineEvent is one entry in the chronological run record.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Metadata identifies the producing toolchain.
type Metadata struct {
	ReportVersion    string `json:"report_version"`
	GeneratorVersion string `json:"generator_version"`
}

// Report is the assembled, format-independent report document.
type Report struct {
	Summary   ExecutionSummary  `json:"execution_summary"`
	Timeline  []TimelineEvent   `json:"timeline"`
	Artifacts []models.Artifact `json:"artifacts"`
	Metadata  Metadata          `json:"metadata"`
}

// ArtifactCountsByKind returns the per-kind artifact tally.
func (r *Report) ArtifactCountsByKind() map[models.ArtifactKind]int {
	out := make(map[models.ArtifactKind]int)
	for _, a := range r.Artifacts {
		out[a.Kind]++
	}
	return out
}

// Assembler builds reports from finalized execution bundles.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler() *Assembler {
	return &Assembler{logger: slog.With("component", "report_assembler")}
}

// Assemble converts the bundle into a report. The timeline always contains
// at least a start and an end event and is chronologically non-decreasing.
func (a *Assembler) Assemble(bundle *models.ExecutionArtifacts) *Report {
	timeline := []TimelineEvent{
		{Timestamp: bundle.StartedAt, Kind: "execution_started"},
	}
	for _, artifact := range bundle.Artifacts {
		timeline = append(timeline, TimelineEvent{
			Timestamp: artifact.Timestamp,
			Kind:      "artifact_captured",
			Detail:    fmt.Sprintf("%s %s", artifact.Kind, artifact.BlobKey),
		})
	}
	timeline = append(timeline, TimelineEvent{Timestamp: bundle.EndedAt, Kind: "execution_finished"})
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})

	report := &Report{
		Summary: ExecutionSummary{
			ExecutionID:    bundle.ExecutionID,
			TestID:         bundle.TestID,
			UserID:         bundle.UserID,
			Start:          bundle.StartedAt,
			End:            bundle.EndedAt,
			Duration:       bundle.EndedAt.Sub(bundle.StartedAt),
			TotalSteps:     bundle.TotalSteps,
			CompletedSteps: bundle.DoneSteps,
			Status:         summaryStatus(bundle.Status),
		},
		Timeline:  timeline,
		Artifacts: bundle.Artifacts,
		Metadata: Metadata{
			ReportVersion:    ReportVersion,
			GeneratorVersion: version.GeneratorVersion,
		},
	}

	a.logger.Debug("Report assembled",
		"execution_id", bundle.ExecutionID,
		"status", report.Summary.Status,
		"timeline_events", len(timeline),
		"artifacts", len(bundle.Artifacts))
	return report
}

func summaryStatus(s models.ExecutionStatus) string {
	switch s {
	case models.StatusCompleted:
		return SummaryPassed
	case models.StatusCancelled:
		return SummarySkipped
	default:
		return SummaryFailed
	}
}
