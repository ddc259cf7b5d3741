package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa/autoqa/pkg/models"
)

func testBundle() *models.ExecutionArtifacts {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.ExecutionArtifacts{
		ExecutionID: "exec-1",
		TestID:      "test-1",
		UserID:      "alice",
		StartedAt:   start,
		EndedAt:     start.Add(90 * time.Second),
		Status:      models.StatusCompleted,
		TotalSteps:  12,
		DoneSteps:   12,
		Artifacts: []models.Artifact{
			{
				ID: "a1", ExecutionID: "exec-1", Kind: models.ArtifactScreenshot,
				Timestamp: start.Add(10 * time.Second),
				BlobKey:   "artifacts/test-1/exec-1/screenshot/20260301T120010.000000000Z.png",
				Size:      2048,
			},
			{
				ID: "a2", ExecutionID: "exec-1", Kind: models.ArtifactScreenshot,
				Timestamp: start.Add(40 * time.Second),
				BlobKey:   "artifacts/test-1/exec-1/screenshot/20260301T120040.000000000Z.png",
				Size:      4096,
			},
			{
				ID: "a3", ExecutionID: "exec-1", Kind: models.ArtifactDomSnapshot,
				Timestamp: start.Add(80 * time.Second),
				BlobKey:   "artifacts/test-1/exec-1/dom/20260301T120120.000000000Z.html.gz",
				Size:      512,
			},
		},
	}
}

func TestAssemble_Summary(t *testing.T) {
	r := NewAssembler().Assemble(testBundle())

	assert.Equal(t, "exec-1", r.Summary.ExecutionID)
	assert.Equal(t, "test-1", r.Summary.TestID)
	assert.Equal(t, "alice", r.Summary.UserID)
	assert.Equal(t, SummaryPassed, r.Summary.Status)
	assert.Equal(t, 90*time.Second, r.Summary.Duration)
	assert.Equal(t, 12, r.Summary.TotalSteps)
	assert.Equal(t, 12, r.Summary.CompletedSteps)
	assert.Equal(t, ReportVersion, r.Metadata.ReportVersion)
	assert.Equal(t, "1.0.0", r.Metadata.GeneratorVersion)
}

func TestAssemble_StatusTranslation(t *testing.T) {
	cases := []struct {
		status models.ExecutionStatus
		want   string
	}{
		{models.StatusCompleted, SummaryPassed},
		{models.StatusFailed, SummaryFailed},
		{models.StatusTimedOut, SummaryFailed},
		{models.StatusCancelled, SummarySkipped},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			bundle := testBundle()
			bundle.Status = tc.status
			r := NewAssembler().Assemble(bundle)
			assert.Equal(t, tc.want, r.Summary.Status)
		})
	}
}

func TestAssemble_TimelineNonDecreasing(t *testing.T) {
	bundle := testBundle()
	// Shuffle artifact order; assembly must still sort chronologically.
	bundle.Artifacts[0], bundle.Artifacts[2] = bundle.Artifacts[2], bundle.Artifacts[0]

	r := NewAssembler().Assemble(bundle)
	require.Len(t, r.Timeline, 5)
	assert.Equal(t, "execution_started", r.Timeline[0].Kind)
	assert.Equal(t, "execution_finished", r.Timeline[len(r.Timeline)-1].Kind)
	for i := 1; i < len(r.Timeline); i++ {
		assert.False(t, r.Timeline[i].Timestamp.Before(r.Timeline[i-1].Timestamp),
			"timeline must be chronologically non-decreasing at index %d", i)
	}
}

func TestAssemble_NoArtifacts(t *testing.T) {
	bundle := testBundle()
	bundle.Artifacts = nil

	r := NewAssembler().Assemble(bundle)
	require.Len(t, r.Timeline, 2)
	assert.Equal(t, "execution_started", r.Timeline[0].Kind)
	assert.Equal(t, "execution_finished", r.Timeline[1].Kind)
}

// Rendering the same report in every format must preserve the semantic
// content: summary fields, timeline length, and per-kind artifact counts.
func TestRender_FormatInvariance(t *testing.T) {
	r := NewAssembler().Assemble(testBundle())

	jsonOut, err := Render(r, FormatJSON)
	require.NoError(t, err)
	htmlOut, err := Render(r, FormatHTML)
	require.NoError(t, err)
	pdfOut, err := Render(r, FormatPDF)
	require.NoError(t, err)

	// JSON round-trips the document losslessly.
	var decoded Report
	require.NoError(t, json.Unmarshal(jsonOut, &decoded))
	assert.Equal(t, r.Summary, decoded.Summary)
	assert.Len(t, decoded.Timeline, len(r.Timeline))
	assert.Equal(t, r.ArtifactCountsByKind(), decoded.ArtifactCountsByKind())

	// HTML and PDF carry the same summary, every timeline event, and every
	// artifact reference.
	for _, out := range []string{string(htmlOut), string(pdfOut)} {
		assert.Contains(t, out, r.Summary.ExecutionID)
		assert.Contains(t, out, r.Summary.TestID)
		assert.Contains(t, out, r.Summary.UserID)
		assert.Contains(t, out, r.Summary.Status)
		for _, ev := range r.Timeline {
			assert.Contains(t, out, ev.Kind)
		}
		for _, a := range r.Artifacts {
			assert.Contains(t, out, a.BlobKey)
		}
		assert.Contains(t, out, r.Metadata.GeneratorVersion)
	}

	assert.Equal(t, strings.Count(string(htmlOut), "artifact_captured"),
		strings.Count(string(pdfOut), "artifact_captured"))
}

func TestRender_UnsupportedFormat(t *testing.T) {
	r := NewAssembler().Assemble(testBundle())
	_, err := Render(r, Format("xml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRender_PDFStructure(t *testing.T) {
	r := NewAssembler().Assemble(testBundle())
	out, err := Render(r, FormatPDF)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "%PDF-1.4"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(s), "%%EOF"))
	assert.Contains(t, s, "/Type /Catalog")
	assert.Contains(t, s, "startxref")
}

func TestRender_PDFEscapesSpecials(t *testing.T) {
	bundle := testBundle()
	bundle.Artifacts[0].BlobKey = `artifacts/test(1)/exec\1/screenshot/x.png`
	r := NewAssembler().Assemble(bundle)

	out, err := Render(r, FormatPDF)
	require.NoError(t, err)
	assert.Contains(t, string(out), `test\(1\)/exec\\1`)
}

func TestRender_HTMLEscapesContent(t *testing.T) {
	bundle := testBundle()
	bundle.TestID = `<script>alert(1)</script>`
	r := NewAssembler().Assemble(bundle)

	out, err := Render(r, FormatHTML)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>alert(1)</script>")
	assert.Contains(t, string(out), "&lt;script&gt;")
}

func TestFormat_ContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "text/html; charset=utf-8", FormatHTML.ContentType())
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
}

func TestArtifactCountsByKind(t *testing.T) {
	r := NewAssembler().Assemble(testBundle())
	counts := r.ArtifactCountsByKind()
	assert.Equal(t, 2, counts[models.ArtifactScreenshot])
	assert.Equal(t, 1, counts[models.ArtifactDomSnapshot])
	assert.Equal(t, 0, counts[models.ArtifactNetworkLog])
}

func TestAssemble_TimelineDetailNamesArtifacts(t *testing.T) {
	r := NewAssembler().Assemble(testBundle())
	var captured []string
	for _, ev := range r.Timeline {
		if ev.Kind == "artifact_captured" {
			captured = append(captured, ev.Detail)
		}
	}
	require.Len(t, captured, 3)
	assert.Contains(t, captured[0], fmt.Sprintf("%s ", models.ArtifactScreenshot))
}
