package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/flow"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/report"
)

// dispatch runs on the flow controller's service loop; it hands the popped
// message to a worker goroutine bounded by the concurrency semaphore.
func (o *Orchestrator) dispatch(ctx context.Context, msg *flow.Message) {
	o.mu.Lock()
	st, ok := o.live[msg.ExecutionID]
	if !ok || st.dispatched || st.exec.Status != models.StatusPending {
		o.mu.Unlock()
		return
	}
	// A request deadline is a hard wall clock bound on the whole run,
	// including time spent waiting for a worker slot.
	var execCtx context.Context
	var cancel context.CancelFunc
	if st.req.Deadline.IsZero() {
		execCtx, cancel = context.WithCancel(ctx)
	} else {
		execCtx, cancel = context.WithDeadline(ctx, st.req.Deadline)
	}
	st.dispatched = true
	st.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		select {
		case o.sem <- struct{}{}:
			defer func() { <-o.sem }()
		case <-execCtx.Done():
			if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				o.finalize(st, models.StatusTimedOut, nil, "deadline expired while awaiting worker")
			} else {
				o.finalize(st, models.StatusCancelled, nil, "cancelled while awaiting worker")
			}
			return
		}
		o.runExecution(execCtx, st)
	}()
}

// runExecution owns one execution from container provisioning to its
// terminal state. Cleanup of the provisioned container is guaranteed on
// every return path.
func (o *Orchestrator) runExecution(ctx context.Context, st *execState) {
	log := o.logger.With("execution_id", st.exec.ID)

	handle, err := o.deps.Containers.ExecuteTest(ctx, st.req)
	if err != nil {
		if ctx.Err() != nil {
			status, reason := terminalForContext(ctx)
			o.finalize(st, status, nil, reason+" during provisioning")
		} else {
			o.finalize(st, models.StatusFailed, nil, fmt.Sprintf("container creation failed: %v", err))
		}
		return
	}
	defer func() {
		// Cleanup must run even when the execution context is cancelled.
		if cerr := o.deps.Containers.Cleanup(context.Background(), handle.ContainerID); cerr != nil {
			log.Error("Container cleanup failed",
				"container_id", handle.ContainerID, "error", cerr)
		}
	}()

	o.mu.Lock()
	st.exec.Status = models.StatusRunning
	st.exec.StartedAt = time.Now()
	st.exec.ContainerID = handle.ContainerID
	o.mu.Unlock()
	o.publishStatus(st.exec.ID, models.StatusRunning, log)
	log.Info("Execution running",
		"container_id", handle.ContainerID, "pod_name", handle.PodName)

	ticker := time.NewTicker(o.deps.Containers.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			status, reason := terminalForContext(ctx)
			o.finalize(st, status, nil, reason)
			return

		case <-ticker.C:
			podStatus, mts, serr := o.deps.Containers.GetStatus(ctx, handle.ContainerID)
			if serr != nil {
				if ctx.Err() != nil {
					status, reason := terminalForContext(ctx)
					o.finalize(st, status, nil, reason)
					return
				}
				o.finalize(st, models.StatusFailed, nil, fmt.Sprintf("status poll failed: %v", serr))
				return
			}
			o.recordMetrics(st, mts)

			switch podStatus {
			case models.ContainerFinished:
				result, rerr := o.deps.Containers.CollectResults(ctx, handle.ContainerID)
				if rerr != nil {
					o.finalize(st, models.StatusFailed, nil, fmt.Sprintf("collecting results: %v", rerr))
					return
				}
				if result.Success {
					o.finalize(st, models.StatusCompleted, result, "")
				} else {
					o.maybeHeal(ctx, st.exec.ID, result, log)
					o.finalize(st, models.StatusFailed, result, failureMessage(result))
				}
				return

			case models.ContainerFailed:
				if time.Since(handle.CreatedAt) >= handle.Timeout {
					o.finalize(st, models.StatusTimedOut, nil,
						fmt.Sprintf("test run exceeded %s", handle.Timeout))
				} else {
					o.finalize(st, models.StatusFailed, nil, "container failed")
				}
				return
			}
		}
	}
}

// recordMetrics folds a container metrics sample into the execution.
func (o *Orchestrator) recordMetrics(st *execState, mts models.ContainerMetrics) {
	interval := o.deps.Containers.PollInterval()

	o.mu.Lock()
	defer o.mu.Unlock()
	if mts.MemoryUsage > st.exec.Metrics.MemoryPeakBytes {
		st.exec.Metrics.MemoryPeakBytes = mts.MemoryUsage
	}
	st.exec.Metrics.CPUSeconds += mts.CPUUsage / 100 * interval.Seconds()
	st.exec.Metrics.NetworkRequests = mts.NetworkRequests
}

// finalize moves the execution to its terminal state exactly once per
// execution: records the outcome, assembles and stores the report, emits the
// terminal event and its single notification, and retains the result in the
// TTL cache. The report is stored before the terminal state becomes visible
// so status readers never see a terminal execution without its ResultRef.
func (o *Orchestrator) finalize(st *execState, status models.ExecutionStatus, result *models.TestResult, errMsg string) {
	log := o.logger.With("execution_id", st.exec.ID)
	now := time.Now()

	o.mu.Lock()
	pre := st.exec.Clone()
	o.mu.Unlock()
	pre.Status = status
	pre.EndedAt = now
	if errMsg != "" {
		pre.Error = errMsg
	}

	ref := o.storeReport(pre, result, log)

	o.mu.Lock()
	st.exec.Status = status
	st.exec.EndedAt = now
	if errMsg != "" {
		st.exec.Error = errMsg
	}
	st.exec.ResultRef = ref
	snapshot := st.exec.Clone()
	o.results.SetDefault(snapshot.ID, snapshot)
	delete(o.live, snapshot.ID)
	o.mu.Unlock()

	if status == models.StatusCompleted {
		o.completed.Add(1)
	} else {
		o.failed.Add(1)
	}
	metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()

	o.publishStatus(snapshot.ID, status, log)
	o.publishCompleted(snapshot, result, log)
	o.notifyTerminal(snapshot)

	if o.deps.Sessions != nil {
		o.deps.Sessions.DeleteByExecution(snapshot.ID)
	}

	log.Info("Execution finalized", "status", status, "error", errMsg)
}

// storeReport assembles the report, renders it as JSON, and uploads it next
// to the execution's artifacts. Report storage is best-effort.
func (o *Orchestrator) storeReport(exec models.Execution, result *models.TestResult, log *slog.Logger) string {
	if o.deps.Capture == nil || o.deps.Assembler == nil {
		return ""
	}

	start := exec.StartedAt
	if start.IsZero() {
		start = exec.EnqueuedAt
	}
	bundle := &models.ExecutionArtifacts{
		ExecutionID: exec.ID,
		TestID:      exec.TestID,
		UserID:      exec.UserID,
		Artifacts:   artifactsFromResult(exec.ID, result),
		StartedAt:   start,
		EndedAt:     exec.EndedAt,
		Status:      exec.Status,
		Metrics:     exec.Metrics,
	}
	if result != nil {
		bundle.TotalSteps = result.TotalSteps
		bundle.DoneSteps = result.DoneSteps
		bundle.Output = result.Output
	}

	data, err := report.Render(o.deps.Assembler.Assemble(bundle), report.FormatJSON)
	if err != nil {
		log.Warn("Failed to render execution report", "error", err)
		return ""
	}
	key := fmt.Sprintf("reports/%s/%s.json", exec.TestID, exec.ID)
	if err := o.deps.Capture.Store().Put(context.Background(), key, data, "application/json"); err != nil {
		log.Warn("Failed to store execution report", "key", key, "error", err)
		return ""
	}
	return key
}

// artifactsFromResult converts blob keys reported by the pod into artifact
// references. Keys outside the canonical schema are skipped.
func artifactsFromResult(executionID string, result *models.TestResult) []models.Artifact {
	if result == nil {
		return nil
	}

	keys := make([]string, 0, len(result.Screenshots)+len(result.Artifacts))
	keys = append(keys, result.Screenshots...)
	keys = append(keys, result.Artifacts...)

	out := make([]models.Artifact, 0, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) != 5 || parts[0] != "artifacts" {
			continue
		}
		kind := models.ArtifactKind(parts[3])
		switch kind {
		case models.ArtifactScreenshot, models.ArtifactDomSnapshot, models.ArtifactNetworkLog:
		default:
			continue
		}

		ts := time.Time{}
		if parsed, perr := ids.ParseSortableTimestamp(trimExt(parts[4])); perr == nil {
			ts = parsed
		}

		out = append(out, models.Artifact{
			ID:          ids.NewID(),
			ExecutionID: executionID,
			Kind:        kind,
			Timestamp:   ts,
			BlobKey:     key,
		})
	}
	return out
}

// trimExt strips the file extension from an artifact key's final segment,
// leaving the sortable timestamp.
func trimExt(segment string) string {
	// Timestamps embed one dot ("...405.000000000Z"); everything after the
	// trailing "Z." is extension.
	if i := strings.Index(segment, "Z."); i >= 0 {
		return segment[:i+1]
	}
	return segment
}

func (o *Orchestrator) publishStatus(executionID string, status models.ExecutionStatus, log *slog.Logger) {
	if err := o.deps.Publisher.PublishExecutionStatus(events.ExecutionStatusPayload{
		Type:        events.EventTypeExecutionStatus,
		ExecutionID: executionID,
		Status:      status,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
	}); err != nil {
		log.Warn("Failed to publish execution status", "status", status, "error", err)
	}
}

func (o *Orchestrator) publishCompleted(exec models.Execution, result *models.TestResult, log *slog.Logger) {
	payload := events.ExecutionCompletedPayload{
		Type:        events.EventTypeExecutionCompleted,
		ExecutionID: exec.ID,
		TestID:      exec.TestID,
		Status:      exec.Status,
		DurationMs:  durationMs(exec),
		Error:       exec.Error,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
	}
	if result != nil {
		payload.TotalSteps = result.TotalSteps
		payload.DoneSteps = result.DoneSteps
	}
	if err := o.deps.Publisher.PublishExecutionCompleted(payload); err != nil {
		log.Warn("Failed to publish execution completed event", "error", err)
	}
}

// notifyTerminal emits the single user notification every terminal state
// carries.
func (o *Orchestrator) notifyTerminal(exec models.Execution) {
	if o.deps.Notifier == nil {
		return
	}

	kind := models.NotifyTestFailed
	title := "Test Run Failed"
	switch exec.Status {
	case models.StatusCompleted:
		kind = models.NotifyTestCompleted
		title = "Test Run Passed"
	case models.StatusTimedOut:
		title = "Test Run Timed Out"
	case models.StatusCancelled:
		title = "Test Run Cancelled"
	}

	message := fmt.Sprintf("Test %s finished with status %s", exec.TestID, exec.Status)
	if exec.Error != "" {
		message = fmt.Sprintf("%s: %s", message, exec.Error)
	}
	o.deps.Notifier.Notify(context.Background(), &models.Notification{
		UserID:  exec.UserID,
		Kind:    kind,
		Title:   title,
		Message: message,
		Metadata: map[string]any{
			"execution_id": exec.ID,
			"test_id":      exec.TestID,
			"status":       string(exec.Status),
			"error":        exec.Error,
			"duration_ms":  durationMs(exec),
			"report":       exec.ResultRef,
		},
	})
}

func durationMs(exec models.Execution) int64 {
	start := exec.StartedAt
	if start.IsZero() {
		start = exec.EnqueuedAt
	}
	return exec.EndedAt.Sub(start).Milliseconds()
}

// maybeHeal runs the self-healing engine when a failed run reports the
// element lookup that broke it. The heal outcome does not change the
// execution's terminal state; the engine emits its own healing event and
// notification.
func (o *Orchestrator) maybeHeal(ctx context.Context, executionID string, result *models.TestResult, log *slog.Logger) {
	if o.deps.Healer == nil || result.FailedLocator == nil {
		return
	}
	loc := result.FailedLocator
	event, err := o.deps.Healer.Heal(ctx, &models.HealingContext{
		ExecutionID:      executionID,
		OriginalSelector: loc.Selector,
		ElementType:      loc.ElementType,
		DomSnapshot:      loc.DomSnapshot,
	})
	if err != nil {
		log.Error("Healing failed", "selector", loc.Selector, "error", err)
		return
	}
	log.Info("Healing finished",
		"selector", loc.Selector, "success", event.Success, "strategy", event.Strategy)
}

// terminalForContext maps a done execution context to its terminal state:
// deadline expiry is a timeout, everything else is a cancel.
func terminalForContext(ctx context.Context) (models.ExecutionStatus, string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.StatusTimedOut, "execution deadline exceeded"
	}
	return models.StatusCancelled, "execution cancelled"
}

func failureMessage(result *models.TestResult) string {
	if result.Stderr != "" {
		return result.Stderr
	}
	return "test run reported failure"
}
