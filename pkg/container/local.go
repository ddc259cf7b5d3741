package container

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/autoqa/autoqa/pkg/models"
)

// LocalRuntime is an in-process pod backend used for development and tests.
// Each pod is a fully independent in-memory record; metrics are derived from
// the pod name so that no two pods can ever report identical state.
type LocalRuntime struct {
	mu       sync.Mutex
	pods     map[string]*localPod
	created  int
	resultFn func(spec PodSpec) *models.TestResult
	podLimit int
	runDur   time.Duration
}

type localPod struct {
	spec      PodSpec
	createdAt time.Time
	status    models.ContainerStatus
	metrics   models.ContainerMetrics
	result    *models.TestResult
}

// LocalOption customizes a LocalRuntime.
type LocalOption func(*LocalRuntime)

// WithResultFunc scripts the result returned for each pod.
func WithResultFunc(fn func(spec PodSpec) *models.TestResult) LocalOption {
	return func(r *LocalRuntime) { r.resultFn = fn }
}

// WithPodLimit caps the number of simultaneously existing pods.
func WithPodLimit(n int) LocalOption {
	return func(r *LocalRuntime) { r.podLimit = n }
}

// WithRunDuration scripts how long a pod stays running before it reports
// finished. Zero (the default) finishes pods on their first status poll.
func WithRunDuration(d time.Duration) LocalOption {
	return func(r *LocalRuntime) { r.runDur = d }
}

// NewLocalRuntime creates an empty local runtime.
func NewLocalRuntime(opts ...LocalOption) *LocalRuntime {
	r := &LocalRuntime{pods: make(map[string]*localPod)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreatePod registers the pod and marks it running.
func (r *LocalRuntime) CreatePod(_ context.Context, spec PodSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pods[spec.PodName]; exists {
		return fmt.Errorf("pod %s already exists", spec.PodName)
	}
	if r.podLimit > 0 && len(r.pods) >= r.podLimit {
		return ErrPodLimit
	}

	r.created++
	r.pods[spec.PodName] = &localPod{
		spec:      spec,
		createdAt: time.Now(),
		status:    models.ContainerRunning,
		metrics:   syntheticMetrics(spec, r.created),
	}
	return nil
}

// PodStatus returns the pod's state. A pod past its wall-clock timeout is
// reported as failed.
func (r *LocalRuntime) PodStatus(_ context.Context, podName string) (models.ContainerStatus, models.ContainerMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pod, ok := r.pods[podName]
	if !ok {
		return "", models.ContainerMetrics{}, fmt.Errorf("pod %s not found", podName)
	}
	if pod.status == models.ContainerRunning {
		switch {
		case pod.spec.Timeout > 0 && time.Since(pod.createdAt) > pod.spec.Timeout:
			pod.status = models.ContainerFailed
		case time.Since(pod.createdAt) >= r.runDur:
			pod.status = models.ContainerFinished
		}
	}
	return pod.status, pod.metrics, nil
}

// CollectResults produces the pod's result and marks the pod finished. The
// pod itself stays registered until deleted.
func (r *LocalRuntime) CollectResults(_ context.Context, podName string) (*models.TestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pod, ok := r.pods[podName]
	if !ok {
		return nil, fmt.Errorf("pod %s not found", podName)
	}
	if pod.result == nil {
		if r.resultFn != nil {
			pod.result = r.resultFn(pod.spec)
		} else {
			pod.result = &models.TestResult{
				Success:    true,
				Output:     fmt.Sprintf("test completed in pod %s", podName),
				Metrics:    pod.metrics,
				TotalSteps: 1,
				DoneSteps:  1,
			}
		}
		pod.status = models.ContainerFinished
	}
	return pod.result, nil
}

// DeletePod removes the pod. Unknown pods are not an error.
func (r *LocalRuntime) DeletePod(_ context.Context, podName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pods, podName)
	return nil
}

// PodCount returns the number of existing pods.
func (r *LocalRuntime) PodCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pods)
}

// syntheticMetrics derives stable, pod-unique metrics. The creation ordinal
// guarantees no two pods ever report identical memory usage.
func syntheticMetrics(spec PodSpec, ordinal int) models.ContainerMetrics {
	h := fnv.New32a()
	_, _ = h.Write([]byte(spec.PodName))
	seed := h.Sum32()

	mem := int64(ordinal) * (4 << 20)
	if spec.MemoryLimit > 0 && mem > spec.MemoryLimit {
		mem = spec.MemoryLimit
	}
	return models.ContainerMetrics{
		MemoryUsage:     mem,
		CPUUsage:        float64(seed % 101),
		NetworkRequests: int(seed % 50),
	}
}
