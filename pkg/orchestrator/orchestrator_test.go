package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa/autoqa/pkg/artifact"
	"github.com/autoqa/autoqa/pkg/bus"
	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/container"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/flow"
	"github.com/autoqa/autoqa/pkg/healing"
	"github.com/autoqa/autoqa/pkg/models"
	"github.com/autoqa/autoqa/pkg/notify"
	"github.com/autoqa/autoqa/pkg/report"
	"github.com/autoqa/autoqa/pkg/session"
)

type harness struct {
	orch     *Orchestrator
	runtime  *container.LocalRuntime
	manager  *container.Manager
	store    *artifact.MemoryStore
	notifier *notify.Notifier
	sessions *session.Manager
	flowCfg  *config.FlowConfig
}

func newHarness(t *testing.T, start bool, runtimeOpts ...container.LocalOption) *harness {
	t.Helper()

	flowCfg := config.DefaultFlowConfig()
	flowCfg.ProcessingRate = 500
	flowCfg.SlowConsumerThreshold = time.Second

	containerCfg := config.DefaultContainerConfig()
	containerCfg.StatusPollInterval = 5 * time.Millisecond
	containerCfg.DefaultTimeout = 2 * time.Second

	rt := container.NewLocalRuntime(runtimeOpts...)
	mgr := container.NewManager(containerCfg, rt)
	pub := events.NewPublisher(bus.NewBus(config.DefaultBusConfig()))
	notifier := notify.NewNotifier(&config.NotifyConfig{PerUserBuffer: 100}, pub, nil)
	store := artifact.NewMemoryStore()
	capture := artifact.NewService(config.DefaultCaptureConfig(), store)
	sessions := session.NewManager(time.Hour)

	orch := New(&config.OrchestratorConfig{Concurrency: 4, ResultCacheTTL: time.Minute}, Deps{
		Flow:       flow.NewController(flowCfg),
		Containers: mgr,
		Capture:    capture,
		Assembler:  report.NewAssembler(),
		Publisher:  pub,
		Notifier:   notifier,
		Sessions:   sessions,
	})
	if start {
		ctx, cancel := context.WithCancel(context.Background())
		orch.Start(ctx)
		t.Cleanup(func() {
			orch.Stop()
			cancel()
		})
	}

	return &harness{
		orch:     orch,
		runtime:  rt,
		manager:  mgr,
		store:    store,
		notifier: notifier,
		sessions: sessions,
		flowCfg:  flowCfg,
	}
}

func execRequest(userID string, priority int) *models.ExecutionRequest {
	return &models.ExecutionRequest{
		TestID:   "t-1",
		TestCode: "await page.goto('https://example.com')",
		UserID:   userID,
		Priority: priority,
		Config: models.ExecutionConfig{
			Browser: models.BrowserChromium,
			Timeout: 2 * time.Second,
		},
	}
}

func waitTerminal(t *testing.T, o *Orchestrator, executionID string) models.Execution {
	t.Helper()
	var exec models.Execution
	require.Eventually(t, func() bool {
		e, err := o.GetStatus(executionID)
		if err != nil || !e.Status.IsTerminal() {
			return false
		}
		exec = e
		return true
	}, 3*time.Second, 10*time.Millisecond, "execution must reach a terminal state")
	return exec
}

func TestOrchestrator_CompletesExecution(t *testing.T) {
	h := newHarness(t, true)

	exec, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, exec.Status)

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.NotEmpty(t, final.ContainerID)
	require.NotEmpty(t, final.ResultRef)

	// The stored report carries the translated summary.
	data, err := h.store.Get(context.Background(), final.ResultRef)
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, report.SummaryPassed, rep.Summary.Status)
	assert.Equal(t, exec.ID, rep.Summary.ExecutionID)

	// Exactly one terminal notification.
	notifications := h.notifier.List("alice")
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotifyTestCompleted, notifications[0].Kind)
	assert.Equal(t, "Test Run Passed", notifications[0].Title)

	assert.Eventually(t, func() bool { return h.manager.ActivePodCount() == 0 },
		time.Second, 10*time.Millisecond, "cleanup must run after the terminal state")

	stats := h.orch.GetQueueStats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
}

func TestOrchestrator_ConcurrentExecutionsAreIsolated(t *testing.T) {
	h := newHarness(t, true, container.WithRunDuration(50*time.Millisecond))

	ids := make([]string, 3)
	for i := range ids {
		exec, err := h.orch.Submit(context.Background(), execRequest("alice", 8))
		require.NoError(t, err)
		ids[i] = exec.ID
	}

	containerIDs := map[string]bool{}
	for _, id := range ids {
		final := waitTerminal(t, h.orch, id)
		assert.Equal(t, models.StatusCompleted, final.Status)
		containerIDs[final.ContainerID] = true
	}
	assert.Len(t, containerIDs, 3, "each execution gets its own container")

	assert.Eventually(t, func() bool {
		return h.manager.ActivePodCount() == 0 && h.runtime.PodCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestrator_FailedRun(t *testing.T) {
	h := newHarness(t, true, container.WithResultFunc(func(container.PodSpec) *models.TestResult {
		return &models.TestResult{
			Success:    false,
			Stderr:     "assertion failed: expected title to contain 'Welcome'",
			TotalSteps: 5,
			DoneSteps:  3,
		}
	}))

	exec, err := h.orch.Submit(context.Background(), execRequest("bob", 5))
	require.NoError(t, err)

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "assertion failed")

	notifications := h.notifier.List("bob")
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotifyTestFailed, notifications[0].Kind)

	data, err := h.store.Get(context.Background(), final.ResultRef)
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, report.SummaryFailed, rep.Summary.Status)
	assert.Equal(t, 5, rep.Summary.TotalSteps)
	assert.Equal(t, 3, rep.Summary.CompletedSteps)

	stats := h.orch.GetQueueStats()
	assert.Equal(t, 1, stats.Failed)
}

// fixedStrategy always proposes the same candidate.
type fixedStrategy struct {
	name       string
	selector   string
	confidence float64
}

func (s fixedStrategy) Name() string { return s.name }

func (s fixedStrategy) Heal(context.Context, *models.HealingContext) (*healing.Candidate, error) {
	return &healing.Candidate{Selector: s.selector, Confidence: s.confidence}, nil
}

func TestOrchestrator_FailedLocatorTriggersHealing(t *testing.T) {
	h := newHarness(t, false, container.WithResultFunc(func(container.PodSpec) *models.TestResult {
		return &models.TestResult{
			Success: false,
			Stderr:  "element not found: #submit-btn",
			FailedLocator: &models.LocatorFailure{
				Selector:    "#submit-btn",
				ElementType: "button",
			},
		}
	}))
	h.orch.deps.Healer = healing.NewEngine(config.DefaultHealingConfig(),
		[]healing.Strategy{fixedStrategy{name: "css_selector", selector: `[data-testid="submit"]`, confidence: 0.95}},
		h.notifier, h.orch.deps.Publisher, "system")

	ctx, cancel := context.WithCancel(context.Background())
	h.orch.Start(ctx)
	t.Cleanup(func() {
		h.orch.Stop()
		cancel()
	})

	exec, err := h.orch.Submit(context.Background(), execRequest("bob", 5))
	require.NoError(t, err)

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusFailed, final.Status)

	// The heal ran before the execution went terminal.
	attempts := h.orch.deps.Healer.AttemptLog()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, `[data-testid="submit"]`, attempts[0].Selector)

	notifications := h.notifier.List("system")
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotifyHealingEvent, notifications[0].Kind)
	assert.Equal(t, "Self-Healing Success", notifications[0].Title)
}

func TestOrchestrator_TimedOutRun(t *testing.T) {
	h := newHarness(t, true, container.WithRunDuration(time.Hour))

	req := execRequest("alice", 5)
	req.Config.Timeout = 30 * time.Millisecond
	exec, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusTimedOut, final.Status)

	notifications := h.notifier.List("alice")
	require.Len(t, notifications, 1)
	assert.Equal(t, "Test Run Timed Out", notifications[0].Title)
}

func TestOrchestrator_ExpiredDeadlineTimesOut(t *testing.T) {
	h := newHarness(t, true)

	req := execRequest("alice", 5)
	req.Deadline = time.Now().Add(-time.Minute)
	exec, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusTimedOut, final.Status)
	assert.Contains(t, final.Error, "deadline")
}

func TestOrchestrator_DeadlineExpiringMidRunTimesOut(t *testing.T) {
	h := newHarness(t, true, container.WithRunDuration(time.Second))

	req := execRequest("alice", 5)
	req.Deadline = time.Now().Add(50 * time.Millisecond)
	exec, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusTimedOut, final.Status)
	assert.Contains(t, final.Error, "deadline")

	stats := h.orch.GetQueueStats()
	assert.Equal(t, 1, stats.Failed)
}

func TestOrchestrator_CancelQueued(t *testing.T) {
	h := newHarness(t, false) // dispatcher not running, message stays queued

	exec, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	require.NoError(t, err)
	require.Equal(t, 1, h.orch.GetQueueStats().Waiting)

	assert.True(t, h.orch.CancelExecution(exec.ID))
	assert.False(t, h.orch.CancelExecution(exec.ID), "repeat cancel reports no transition")
	assert.Equal(t, 0, h.orch.GetQueueStats().Waiting, "message removed from the queue")

	final, err := h.orch.GetStatus(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)

	notifications := h.notifier.List("alice")
	require.Len(t, notifications, 1)
	assert.Equal(t, "Test Run Cancelled", notifications[0].Title)
}

func TestOrchestrator_CancelRunning(t *testing.T) {
	h := newHarness(t, true, container.WithRunDuration(time.Hour))

	exec, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, gerr := h.orch.GetStatus(exec.ID)
		return gerr == nil && e.Status == models.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, h.orch.CancelExecution(exec.ID))

	final := waitTerminal(t, h.orch, exec.ID)
	assert.Equal(t, models.StatusCancelled, final.Status)
	assert.Eventually(t, func() bool { return h.manager.ActivePodCount() == 0 },
		time.Second, 10*time.Millisecond, "cleanup runs on the cancellation path")

	assert.False(t, h.orch.CancelExecution(exec.ID))
}

func TestOrchestrator_CancelUnknown(t *testing.T) {
	h := newHarness(t, false)
	assert.False(t, h.orch.CancelExecution("never-submitted"))
}

func TestOrchestrator_ValidationErrors(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*models.ExecutionRequest)
	}{
		{"missing test id", func(r *models.ExecutionRequest) { r.TestID = "" }},
		{"missing test code", func(r *models.ExecutionRequest) { r.TestCode = "" }},
		{"missing user id", func(r *models.ExecutionRequest) { r.UserID = "" }},
		{"priority too high", func(r *models.ExecutionRequest) { r.Priority = 11 }},
		{"negative priority", func(r *models.ExecutionRequest) { r.Priority = -1 }},
		{"unknown browser", func(r *models.ExecutionRequest) { r.Config.Browser = "netscape" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := execRequest("alice", 5)
			tc.mutate(req)
			_, err := h.orch.Submit(ctx, req)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}

	assert.Equal(t, 0, h.orch.GetQueueStats().Waiting, "rejected requests never enqueue")
}

func TestOrchestrator_BackpressureRejectionSurfaces(t *testing.T) {
	h := newHarness(t, false)
	h.flowCfg.MaxMemoryUsage = 100 // below the envelope overhead of any request

	_, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	require.Error(t, err)

	var bpErr *flow.BackpressureError
	require.True(t, errors.As(err, &bpErr))
	assert.Equal(t, flow.ReasonMemoryPressure, bpErr.Reason)

	stats := h.orch.GetQueueStats()
	assert.Equal(t, 0, stats.Waiting)
}

func TestOrchestrator_SessionsClearedOnTerminal(t *testing.T) {
	h := newHarness(t, true)

	exec, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	require.NoError(t, err)

	_, err = h.sessions.Create(context.Background(), exec.ID, "alice")
	require.NoError(t, err)

	waitTerminal(t, h.orch, exec.ID)
	assert.Eventually(t, func() bool { return h.sessions.Len() == 0 },
		time.Second, 10*time.Millisecond, "execution sessions are revoked on terminal state")
}

func TestOrchestrator_GetStatusUnknown(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.orch.GetStatus("missing")
	assert.True(t, IsNotFound(err))
}

func TestOrchestrator_ReportIncludesPodArtifacts(t *testing.T) {
	keys := []string{
		"artifacts/t-1/e/screenshot/20260301T120010.000000000Z.png",
		"artifacts/t-1/e/dom/20260301T120011.000000000Z.html.gz",
		"artifacts/t-1/e/network/20260301T120012.000000000Z.har",
		"not-an-artifact-key",
	}
	h := newHarness(t, true, container.WithResultFunc(func(container.PodSpec) *models.TestResult {
		return &models.TestResult{
			Success:     true,
			Artifacts:   keys[1:],
			Screenshots: keys[:1],
			TotalSteps:  2,
			DoneSteps:   2,
		}
	}))

	exec, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	require.NoError(t, err)
	final := waitTerminal(t, h.orch, exec.ID)
	require.Equal(t, models.StatusCompleted, final.Status)

	data, err := h.store.Get(context.Background(), final.ResultRef)
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.Unmarshal(data, &rep))

	counts := rep.ArtifactCountsByKind()
	assert.Equal(t, 1, counts[models.ArtifactScreenshot])
	assert.Equal(t, 1, counts[models.ArtifactDomSnapshot])
	assert.Equal(t, 1, counts[models.ArtifactNetworkLog])
	assert.Len(t, rep.Artifacts, 3, "malformed keys are skipped")
}

func TestArtifactsFromResult(t *testing.T) {
	result := &models.TestResult{
		Screenshots: []string{"artifacts/t/e/screenshot/20260301T120010.000000000Z.png"},
		Artifacts: []string{
			"artifacts/t/e/dom/20260301T120011.000000000Z.html.gz",
			"artifacts/t/e/bogus-kind/20260301T120012.000000000Z.bin",
			"some/random/key",
		},
	}

	out := artifactsFromResult("e", result)
	require.Len(t, out, 2)
	assert.Equal(t, models.ArtifactScreenshot, out[0].Kind)
	assert.Equal(t, models.ArtifactDomSnapshot, out[1].Kind)
	assert.Equal(t, 2026, out[0].Timestamp.Year(), "timestamp parsed from the key")

	assert.Empty(t, artifactsFromResult("e", nil))
}

func TestOrchestrator_PriorityMapping(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	for _, prio := range []int{0, 5, 9} {
		_, err := h.orch.Submit(ctx, execRequest("alice", prio))
		require.NoError(t, err)
	}
	depths := h.orch.deps.Flow.DepthByPriority()
	assert.Equal(t, 1, depths[flow.PriorityLow])
	assert.Equal(t, 1, depths[flow.PriorityNormal])
	assert.Equal(t, 1, depths[flow.PriorityHigh])
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	h := newHarness(t, true)
	h.orch.Stop()

	_, err := h.orch.Submit(context.Background(), execRequest("alice", 5))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestQueueStats_DelayedCountsPoppedButUnstarted(t *testing.T) {
	// Concurrency 1 and long-running pods: the second popped message waits
	// on the worker semaphore and shows up as delayed.
	flowCfg := config.DefaultFlowConfig()
	flowCfg.ProcessingRate = 500
	containerCfg := config.DefaultContainerConfig()
	containerCfg.StatusPollInterval = 5 * time.Millisecond
	containerCfg.DefaultTimeout = 10 * time.Second

	rt := container.NewLocalRuntime(container.WithRunDuration(time.Hour))
	mgr := container.NewManager(containerCfg, rt)
	pub := events.NewPublisher(bus.NewBus(config.DefaultBusConfig()))
	orch := New(&config.OrchestratorConfig{Concurrency: 1, ResultCacheTTL: time.Minute}, Deps{
		Flow:       flow.NewController(flowCfg),
		Containers: mgr,
		Publisher:  pub,
	})
	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	t.Cleanup(func() {
		orch.Stop()
		cancel()
	})

	req := execRequest("alice", 5)
	req.Config.Timeout = 10 * time.Second
	for i := 0; i < 3; i++ {
		_, err := orch.Submit(context.Background(), req)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		stats := orch.GetQueueStats()
		return stats.Active == 1 && stats.Delayed >= 1
	}, 2*time.Second, 10*time.Millisecond, "one running, at least one awaiting a slot")
}
