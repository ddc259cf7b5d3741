package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Format selects the report serialization.
type Format string

// Supported output formats.
const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ErrUnsupportedFormat is returned for formats outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Render serializes the report in the requested format. The rendered content
// is derived from the same Report document in every format.
func Render(r *Report, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(r)
	case FormatHTML:
		return renderHTML(r)
	case FormatPDF:
		return renderPDF(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func renderJSON(r *Report) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"fmtTime": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Test Report {{.Summary.ExecutionID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.passed { color: #2e7d32; } .failed { color: #c62828; } .skipped { color: #757575; }
</style>
</head>
<body>
<h1>Test Report</h1>
<h2>Execution Summary</h2>
<table>
<tr><th>Execution</th><td>{{.Summary.ExecutionID}}</td></tr>
<tr><th>Test</th><td>{{.Summary.TestID}}</td></tr>
<tr><th>User</th><td>{{.Summary.UserID}}</td></tr>
<tr><th>Status</th><td class="{{.Summary.Status}}">{{.Summary.Status}}</td></tr>
<tr><th>Start</th><td>{{fmtTime .Summary.Start}}</td></tr>
<tr><th>End</th><td>{{fmtTime .Summary.End}}</td></tr>
<tr><th>Duration</th><td>{{.Summary.Duration}}</td></tr>
<tr><th>Steps</th><td>{{.Summary.CompletedSteps}}/{{.Summary.TotalSteps}}</td></tr>
</table>
<h2>Timeline</h2>
<table>
<tr><th>Timestamp</th><th>Event</th><th>Detail</th></tr>
{{range .Timeline}}<tr><td>{{fmtTime .Timestamp}}</td><td>{{.Kind}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
<h2>Artifacts</h2>
<table>
<tr><th>Kind</th><th>Blob Key</th><th>Size</th></tr>
{{range .Artifacts}}<tr><td>{{.Kind}}</td><td>{{.BlobKey}}</td><td>{{.Size}}</td></tr>
{{end}}</table>
<footer>report {{.Metadata.ReportVersion}} / generator {{.Metadata.GeneratorVersion}}</footer>
</body>
</html>
`))

func renderHTML(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("rendering html report: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPDF(r *Report) ([]byte, error) {
	lines := []string{
		"Test Report",
		"",
		fmt.Sprintf("Execution: %s", r.Summary.ExecutionID),
		fmt.Sprintf("Test: %s", r.Summary.TestID),
		fmt.Sprintf("User: %s", r.Summary.UserID),
		fmt.Sprintf("Status: %s", r.Summary.Status),
		fmt.Sprintf("Start: %s", r.Summary.Start.UTC().Format(time.RFC3339)),
		fmt.Sprintf("End: %s", r.Summary.End.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Duration: %s", r.Summary.Duration),
		fmt.Sprintf("Steps: %d/%d", r.Summary.CompletedSteps, r.Summary.TotalSteps),
		"",
		"Timeline:",
	}
	for _, ev := range r.Timeline {
		lines = append(lines, fmt.Sprintf("  %s  %s  %s",
			ev.Timestamp.UTC().Format(time.RFC3339), ev.Kind, ev.Detail))
	}
	lines = append(lines, "", "Artifacts:")
	for _, a := range r.Artifacts {
		lines = append(lines, fmt.Sprintf("  %s  %s  (%d bytes)", a.Kind, a.BlobKey, a.Size))
	}
	lines = append(lines, "",
		fmt.Sprintf("report %s / generator %s", r.Metadata.ReportVersion, r.Metadata.GeneratorVersion))
	return buildPDF(lines), nil
}

// buildPDF writes a minimal single-font PDF 1.4 document with one text line
// per input string. Lines beyond the page height flow off the page; report
// PDFs are summaries, not paginated documents.
func buildPDF(lines []string) []byte {
	var content bytes.Buffer
	content.WriteString("BT\n/F1 10 Tf\n12 TL\n50 760 Td\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", escapePDFText(line))
	}
	content.WriteString("ET\n")

	var buf bytes.Buffer
	offsets := make([]int, 6)
	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>")
	writeObj(4, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	writeObj(5, fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()))

	xref := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

// escapePDFText escapes the characters with meaning inside PDF string
// literals and strips characters outside the WinAnsi printable range.
func escapePDFText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			if r >= 32 && r < 127 {
				b.WriteRune(r)
			} else {
				b.WriteByte('?')
			}
		}
	}
	return b.String()
}
