package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/models"
)

// cleanupParallelism bounds concurrent pod deletions during shutdown.
const cleanupParallelism = 8

// Manager owns the set of active containers, keyed by containerId. Container
// ids and pod names are freshly generated per execution and never reused.
type Manager struct {
	cfg     *config.ContainerConfig
	runtime Runtime
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[string]*models.ContainerHandle
}

// NewManager creates a manager on top of runtime.
func NewManager(cfg *config.ContainerConfig, runtime Runtime) *Manager {
	return &Manager{
		cfg:     cfg,
		runtime: runtime,
		logger:  slog.With("component", "container_manager"),
		handles: make(map[string]*models.ContainerHandle),
	}
}

// ExecuteTest provisions an isolated pod for req and registers its handle.
// The pod is created with the hardened security profile and the default
// egress policy; its wall-clock timeout comes from the request, falling back
// to the configured default.
func (m *Manager) ExecuteTest(ctx context.Context, req *models.ExecutionRequest) (*models.ContainerHandle, error) {
	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	handle := &models.ContainerHandle{
		ContainerID: ids.NewContainerID(),
		PodName:     ids.NewPodName(),
		Namespace:   m.cfg.Namespace,
		MemoryLimit: m.cfg.MemoryLimit,
		CPULimit:    m.cfg.CPULimit,
		Timeout:     timeout,
		CreatedAt:   time.Now(),
	}

	spec := PodSpec{
		PodName:     handle.PodName,
		Namespace:   handle.Namespace,
		Browser:     req.Config.Browser,
		Viewport:    req.Config.Viewport,
		Headless:    req.Config.Headless,
		TestCode:    req.TestCode,
		Env:         req.Config.Env,
		MemoryLimit: handle.MemoryLimit,
		CPULimit:    handle.CPULimit,
		Timeout:     timeout,
		Security:    DefaultSecuritySpec(),
		Egress:      DefaultEgressPolicy(),
	}
	if err := m.runtime.CreatePod(ctx, spec); err != nil {
		return nil, fmt.Errorf("creating pod %s: %w", handle.PodName, err)
	}

	m.mu.Lock()
	m.handles[handle.ContainerID] = handle
	m.mu.Unlock()
	metrics.ActiveContainers.Inc()

	m.logger.Info("Container provisioned",
		"container_id", handle.ContainerID,
		"pod_name", handle.PodName,
		"browser", req.Config.Browser,
		"timeout", timeout)
	return handle, nil
}

// GetStatus returns the pod state and a metrics snapshot for containerID.
// Reported metrics are clamped to the handle's caps.
func (m *Manager) GetStatus(ctx context.Context, containerID string) (models.ContainerStatus, models.ContainerMetrics, error) {
	handle, err := m.lookup(containerID)
	if err != nil {
		return "", models.ContainerMetrics{}, err
	}

	status, mts, err := m.runtime.PodStatus(ctx, handle.PodName)
	if err != nil {
		return "", models.ContainerMetrics{}, fmt.Errorf("pod %s status: %w", handle.PodName, err)
	}

	mts.ContainerID = containerID
	if mts.MemoryUsage > handle.MemoryLimit {
		mts.MemoryUsage = handle.MemoryLimit
	}
	if mts.CPUUsage < 0 {
		mts.CPUUsage = 0
	}
	if mts.CPUUsage > 100 {
		mts.CPUUsage = 100
	}
	return status, mts, nil
}

// CollectResults returns the finished pod's output. Collecting does not
// remove the container.
func (m *Manager) CollectResults(ctx context.Context, containerID string) (*models.TestResult, error) {
	handle, err := m.lookup(containerID)
	if err != nil {
		return nil, err
	}
	result, err := m.runtime.CollectResults(ctx, handle.PodName)
	if err != nil {
		return nil, fmt.Errorf("collecting results from pod %s: %w", handle.PodName, err)
	}
	return result, nil
}

// Cleanup tears down containerID's pod and deregisters the handle. It is
// idempotent: cleaning an unknown or already cleaned container is a no-op.
// A panicking runtime cannot leak the registration.
func (m *Manager) Cleanup(ctx context.Context, containerID string) (err error) {
	m.mu.Lock()
	handle, ok := m.handles[containerID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.handles, containerID)
	m.mu.Unlock()
	metrics.ActiveContainers.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic deleting pod %s: %v", handle.PodName, r)
			m.logger.Error("Pod deletion panicked",
				"container_id", containerID, "pod_name", handle.PodName, "panic", r)
		}
	}()

	if err := m.runtime.DeletePod(ctx, handle.PodName); err != nil {
		return fmt.Errorf("deleting pod %s: %w", handle.PodName, err)
	}
	m.logger.Info("Container cleaned up",
		"container_id", containerID, "pod_name", handle.PodName)
	return nil
}

// CleanupAll cleans up every registered container in parallel and returns
// the combined errors. Called on shutdown.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	active := make([]string, 0, len(m.handles))
	for id := range m.handles {
		active = append(active, id)
	}
	m.mu.Unlock()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  error
	)
	g.SetLimit(cleanupParallelism)
	for _, id := range active {
		g.Go(func() error {
			if err := m.Cleanup(ctx, id); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if count := len(active); count > 0 {
		m.logger.Info("Cleaned up all containers", "count", count)
	}
	return errs
}

// Handle returns the registered handle for containerID.
func (m *Manager) Handle(containerID string) (*models.ContainerHandle, error) {
	return m.lookup(containerID)
}

// PollInterval returns the configured status poll cadence.
func (m *Manager) PollInterval() time.Duration {
	return m.cfg.StatusPollInterval
}

// ActivePodCount returns the number of registered containers.
func (m *Manager) ActivePodCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *Manager) lookup(containerID string) (*models.ContainerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.handles[containerID]
	if !ok {
		return nil, &NotFoundError{ContainerID: containerID}
	}
	return handle, nil
}
