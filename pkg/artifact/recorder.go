package artifact

import (
	"sync"
	"time"
)

// NetworkRecorder pairs page requests with their responses in memory. The
// page runtime calls Request when a request leaves and Response when its
// reply arrives; entries without a response keep status 0.
type NetworkRecorder struct {
	mu      sync.Mutex
	entries []*NetworkEntry
	pending map[string]*NetworkEntry
}

// NewNetworkRecorder creates an empty recorder.
func NewNetworkRecorder() *NetworkRecorder {
	return &NetworkRecorder{pending: make(map[string]*NetworkEntry)}
}

// Request records an outgoing request under requestID.
func (r *NetworkRecorder) Request(requestID, method, url string, headers map[string]string, body string) {
	entry := &NetworkEntry{
		URL:            url,
		Method:         method,
		RequestHeaders: headers,
		RequestBody:    body,
		Timestamp:      time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	r.pending[requestID] = entry
}

// Response resolves the request recorded under requestID. Unknown ids are
// ignored (the runtime may report responses for requests made before
// recording started).
func (r *NetworkRecorder) Response(requestID string, status int, headers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[requestID]
	if !ok {
		return
	}
	delete(r.pending, requestID)
	entry.Status = status
	entry.ResponseHeaders = headers
	entry.Duration = time.Since(entry.Timestamp)
}

// Entries returns a snapshot of everything recorded so far.
func (r *NetworkRecorder) Entries() []NetworkEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NetworkEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of recorded requests.
func (r *NetworkRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
