// Package orchestrator drives executions through their lifecycle: admission
// via the flow controller, container provisioning, status polling, artifact
// and report finalization, and guaranteed cleanup on every terminal path.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/multierr"

	"github.com/autoqa/autoqa/pkg/artifact"
	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/container"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/flow"
	"github.com/autoqa/autoqa/pkg/healing"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/notify"
	"github.com/autoqa/autoqa/pkg/report"
	"github.com/autoqa/autoqa/pkg/session"
)

// Deps are the collaborating services. Capture, Notifier, Sessions, and
// Healer may be nil in reduced deployments; the orchestrator degrades
// gracefully.
type Deps struct {
	Flow       *flow.Controller
	Containers *container.Manager
	Capture    *artifact.Service
	Assembler  *report.Assembler
	Publisher  *events.Publisher
	Notifier   *notify.Notifier
	Sessions   *session.Manager
	Healer     *healing.Engine
}

// QueueStats is the queue and registry snapshot exposed over the API.
type QueueStats struct {
	Waiting   int `json:"waiting"`   // queued in the flow controller
	Active    int `json:"active"`    // provisioned containers
	Completed int `json:"completed"` // terminal: completed
	Failed    int `json:"failed"`    // terminal: failed, timed_out, cancelled
	Delayed   int `json:"delayed"`   // popped but waiting for a worker slot
}

// execState is the registry entry for one live (non-terminal) execution.
type execState struct {
	exec       *models.Execution
	req        *models.ExecutionRequest
	msgID      string
	cancel     context.CancelFunc // set while a worker owns the execution
	dispatched bool
}

// Orchestrator is the execution control plane's scheduler.
type Orchestrator struct {
	cfg    *config.OrchestratorConfig
	deps   Deps
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*execState

	// results retains terminal executions for status queries after the live
	// entry is dropped.
	results *cache.Cache

	completed atomic.Int64
	failed    atomic.Int64

	sem      chan struct{}
	stopping atomic.Bool
	started  bool
	wg       sync.WaitGroup
}

// New creates an orchestrator with a worker pool of cfg.Concurrency.
func New(cfg *config.OrchestratorConfig, deps Deps) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  slog.With("component", "orchestrator"),
		live:    make(map[string]*execState),
		results: cache.New(cfg.ResultCacheTTL, 2*cfg.ResultCacheTTL),
		sem:     make(chan struct{}, concurrency),
	}
}

// Start wires the backpressure signal bridge and launches the dispatcher.
// Safe to call once.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		o.logger.Warn("Orchestrator already started, ignoring duplicate Start call")
		return
	}
	o.started = true
	o.mu.Unlock()

	o.deps.Flow.SetSignalHandler(o.onBackpressure)
	o.deps.Flow.Start(ctx, o.dispatch)
	o.logger.Info("Orchestrator started", "concurrency", cap(o.sem))
}

// Stop stops intake, drains in-flight workers, and returns. Containers
// belonging to cancelled work are cleaned by their owning workers.
func (o *Orchestrator) Stop() {
	o.stopping.Store(true)
	o.deps.Flow.Stop()

	// Cancel running executions so workers unwind promptly.
	o.mu.Lock()
	for _, st := range o.live {
		if st.cancel != nil {
			st.cancel()
		}
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("Orchestrator stopped")
}

// Submit validates the request, registers a pending execution, announces it,
// and enqueues it for dispatch. Admission rejections surface as
// *flow.BackpressureError.
func (o *Orchestrator) Submit(ctx context.Context, req *models.ExecutionRequest) (models.Execution, error) {
	if o.stopping.Load() {
		return models.Execution{}, ErrShuttingDown
	}
	if err := validateRequest(req); err != nil {
		return models.Execution{}, err
	}

	msg := &flow.Message{
		ID:          ids.NewID(),
		ExecutionID: ids.NewExecutionID(),
		Priority:    flow.FromLevel(req.Priority),
		Size:        req.EstimatedBytes(),
		Payload:     req,
	}
	st := &execState{
		exec: &models.Execution{
			ID:         msg.ExecutionID,
			TestID:     req.TestID,
			UserID:     req.UserID,
			Status:     models.StatusPending,
			EnqueuedAt: time.Now(),
		},
		req:   req,
		msgID: msg.ID,
	}

	o.mu.Lock()
	o.live[st.exec.ID] = st
	o.mu.Unlock()

	if err := o.deps.Flow.Enqueue(msg); err != nil {
		o.mu.Lock()
		delete(o.live, st.exec.ID)
		o.mu.Unlock()
		return models.Execution{}, err
	}

	if perr := o.deps.Publisher.PublishExecutionSubmitted(events.ExecutionSubmittedPayload{
		Type:        events.EventTypeExecutionSubmitted,
		ExecutionID: st.exec.ID,
		TestID:      req.TestID,
		Priority:    req.Priority,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
	}); perr != nil {
		o.logger.Warn("Failed to publish execution submitted event",
			"execution_id", st.exec.ID, "error", perr)
	}

	o.logger.Info("Execution submitted",
		"execution_id", st.exec.ID,
		"test_id", req.TestID,
		"priority", req.Priority,
		"queue", msg.Priority)
	return st.exec.Clone(), nil
}

// GetStatus returns the execution snapshot, consulting live state first and
// then the terminal result cache.
func (o *Orchestrator) GetStatus(executionID string) (models.Execution, error) {
	o.mu.Lock()
	if st, ok := o.live[executionID]; ok {
		snapshot := st.exec.Clone()
		o.mu.Unlock()
		return snapshot, nil
	}
	o.mu.Unlock()

	if v, ok := o.results.Get(executionID); ok {
		return v.(models.Execution), nil
	}
	return models.Execution{}, &NotFoundError{ExecutionID: executionID}
}

// CancelExecution cancels the execution if it is not already terminal.
// Returns whether a state transition occurred; safe to call repeatedly.
func (o *Orchestrator) CancelExecution(executionID string) bool {
	o.mu.Lock()
	st, ok := o.live[executionID]
	if !ok {
		o.mu.Unlock()
		return false
	}

	if st.exec.Status == models.StatusRunning || st.dispatched {
		// A worker owns it; cancellation lands through its context.
		cancel := st.cancel
		o.mu.Unlock()
		if cancel != nil {
			cancel()
			return true
		}
		return false
	}

	// Still queued: claim it so the dispatcher skips it, pull it out of the
	// flow controller, and finalize directly.
	st.dispatched = true
	o.mu.Unlock()

	o.deps.Flow.Remove(st.msgID)
	o.finalize(st, models.StatusCancelled, nil, "cancelled before dispatch")
	o.logger.Info("Execution cancelled while queued", "execution_id", executionID)
	return true
}

// GetQueueStats derives the queue snapshot from the flow controller and the
// live registry.
func (o *Orchestrator) GetQueueStats() QueueStats {
	waiting := o.deps.Flow.Depth()

	o.mu.Lock()
	pending := 0
	for _, st := range o.live {
		if st.exec.Status == models.StatusPending {
			pending++
		}
	}
	o.mu.Unlock()

	delayed := pending - waiting
	if delayed < 0 {
		delayed = 0
	}
	return QueueStats{
		Waiting:   waiting,
		Active:    o.deps.Containers.ActivePodCount(),
		Completed: int(o.completed.Load()),
		Failed:    int(o.failed.Load()),
		Delayed:   delayed,
	}
}

// onBackpressure bridges flow controller signals onto the event stream.
func (o *Orchestrator) onBackpressure(sig flow.Signal) {
	if err := o.deps.Publisher.PublishBackpressureSignal(events.BackpressureSignalPayload{
		Type:        events.EventTypeBackpressureSignal,
		Signal:      string(sig.Type),
		Reason:      sig.Reason,
		Utilization: sig.Utilization,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		o.logger.Warn("Failed to publish backpressure signal",
			"signal", sig.Type, "error", err)
	}
}

func validateRequest(req *models.ExecutionRequest) error {
	var errs error
	if req.TestID == "" {
		errs = multierr.Append(errs, &ValidationError{Field: "test_id", Reason: "must not be empty"})
	}
	if req.TestCode == "" {
		errs = multierr.Append(errs, &ValidationError{Field: "test_code", Reason: "must not be empty"})
	}
	if req.UserID == "" {
		errs = multierr.Append(errs, &ValidationError{Field: "user_id", Reason: "must not be empty"})
	}
	if req.Priority < 0 || req.Priority > 10 {
		errs = multierr.Append(errs, &ValidationError{Field: "priority", Reason: "must be between 0 and 10"})
	}
	if req.Config.Browser != "" && !req.Config.Browser.IsValid() {
		errs = multierr.Append(errs, &ValidationError{Field: "config.browser", Reason: "unknown browser"})
	}
	if req.Config.Viewport.Width < 0 || req.Config.Viewport.Height < 0 {
		errs = multierr.Append(errs, &ValidationError{Field: "config.viewport", Reason: "must not be negative"})
	}
	return errs
}
