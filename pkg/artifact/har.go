package artifact

import (
	"time"

	"github.com/autoqa/autoqa/pkg/version"
)

// HAR 1.2 document structure, reduced to the fields the capture layer fills.
// See http://www.softwareishard.com/blog/har-12-spec/.

// HAR is the top-level HTTP Archive document.
type HAR struct {
	Log HARLog `json:"log"`
}

// HARLog is the archive body.
type HARLog struct {
	Version string     `json:"version"` // always "1.2"
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator identifies the producing tool.
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HAREntry is one request/response pair.
type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"` // ISO 8601
	Time            float64     `json:"time"`            // total ms
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
	Timings         HARTimings  `json:"timings"`
}

// HARRequest is the request half of an entry.
type HARRequest struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []HARHeader `json:"headers"`
	QueryString []HARHeader `json:"queryString"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
	PostData    *HARPost    `json:"postData,omitempty"`
}

// HARResponse is the response half of an entry.
type HARResponse struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []HARHeader `json:"headers"`
	Content     HARContent  `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

// HARHeader is a name/value pair.
type HARHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARPost carries a request body.
type HARPost struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HARContent describes the response body.
type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
}

// HARTimings breaks the entry time down. Only the total is known here, so
// it is attributed to wait; unknown phases are -1 per the spec.
type HARTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// NetworkEntry is one recorded request with its paired response.
type NetworkEntry struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Status          int               `json:"status"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Duration        time.Duration     `json:"duration"`
}

// BuildHAR converts recorded network entries to a HAR 1.2 document.
func BuildHAR(entries []NetworkEntry) *HAR {
	har := &HAR{
		Log: HARLog{
			Version: "1.2",
			Creator: HARCreator{
				Name:    "AutoQA Artifact Capture",
				Version: version.GeneratorVersion,
			},
			Entries: make([]HAREntry, 0, len(entries)),
		},
	}

	for _, e := range entries {
		totalMs := float64(e.Duration.Microseconds()) / 1000
		entry := HAREntry{
			StartedDateTime: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Time:            totalMs,
			Request: HARRequest{
				Method:      e.Method,
				URL:         e.URL,
				HTTPVersion: "HTTP/1.1",
				Headers:     toHARHeaders(e.RequestHeaders),
				QueryString: []HARHeader{},
				HeadersSize: -1,
				BodySize:    len(e.RequestBody),
			},
			Response: HARResponse{
				Status:      e.Status,
				StatusText:  statusText(e.Status),
				HTTPVersion: "HTTP/1.1",
				Headers:     toHARHeaders(e.ResponseHeaders),
				Content:     HARContent{Size: -1, MimeType: e.ResponseHeaders["content-type"]},
				HeadersSize: -1,
				BodySize:    -1,
			},
			Timings: HARTimings{Send: -1, Wait: totalMs, Receive: -1},
		}
		if e.RequestBody != "" {
			entry.Request.PostData = &HARPost{
				MimeType: e.RequestHeaders["content-type"],
				Text:     e.RequestBody,
			}
		}
		har.Log.Entries = append(har.Log.Entries, entry)
	}
	return har
}

func toHARHeaders(h map[string]string) []HARHeader {
	out := make([]HARHeader, 0, len(h))
	for name, value := range h {
		out = append(out, HARHeader{Name: name, Value: value})
	}
	return out
}

func statusText(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "OK"
	case status >= 300 && status < 400:
		return "Redirect"
	case status >= 400 && status < 500:
		return "Client Error"
	case status >= 500:
		return "Server Error"
	default:
		return ""
	}
}
