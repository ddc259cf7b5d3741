// Package container manages isolated browser pods: one per execution, with
// hardened security settings, resource caps, and guaranteed cleanup.
package container

import (
	"context"
	"time"

	"github.com/autoqa/autoqa/pkg/models"
)

// EgressPolicy restricts a pod's outbound network reach. Test pods may talk
// to the public Internet but never to cluster-internal or cloud metadata
// addresses.
type EgressPolicy struct {
	DenyCIDRs   []string `json:"deny_cidrs"`
	AllowPublic bool     `json:"allow_public"`
}

// DefaultEgressPolicy denies link-local (cloud metadata), loopback, and the
// RFC1918 private ranges while allowing the public Internet.
func DefaultEgressPolicy() EgressPolicy {
	return EgressPolicy{
		DenyCIDRs: []string{
			"169.254.0.0/16", // link-local, incl. cloud metadata endpoints
			"127.0.0.0/8",
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
		},
		AllowPublic: true,
	}
}

// SecuritySpec is the pod hardening profile.
type SecuritySpec struct {
	RunAsNonRoot     bool     `json:"run_as_non_root"`
	ReadOnlyRootFS   bool     `json:"read_only_root_fs"`
	WritablePaths    []string `json:"writable_paths"`
	DropCapabilities []string `json:"drop_capabilities"`
}

// DefaultSecuritySpec returns the hardening applied to every test pod.
func DefaultSecuritySpec() SecuritySpec {
	return SecuritySpec{
		RunAsNonRoot:     true,
		ReadOnlyRootFS:   true,
		WritablePaths:    []string{"/app/screenshots", "/app/reports"},
		DropCapabilities: []string{"ALL"},
	}
}

// PodSpec is everything the runtime needs to create one isolated test pod.
type PodSpec struct {
	PodName     string
	Namespace   string
	Browser     models.BrowserKind
	Viewport    models.Viewport
	Headless    bool
	TestCode    string
	Env         map[string]string
	MemoryLimit int64
	CPULimit    float64
	Timeout     time.Duration
	Security    SecuritySpec
	Egress      EgressPolicy
}

// Runtime is the browser pod backend. Implementations must keep pods fully
// isolated from each other: no call on one pod may return state attributable
// to another.
type Runtime interface {
	// CreatePod provisions the pod and starts the test.
	CreatePod(ctx context.Context, spec PodSpec) error

	// PodStatus returns the pod's lifecycle state and a live metrics snapshot.
	PodStatus(ctx context.Context, podName string) (models.ContainerStatus, models.ContainerMetrics, error)

	// CollectResults returns the finished pod's output without removing it.
	CollectResults(ctx context.Context, podName string) (*models.TestResult, error)

	// DeletePod tears the pod down. Deleting an unknown pod is not an error.
	DeletePod(ctx context.Context, podName string) error
}
