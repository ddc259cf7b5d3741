// Package metrics registers the control plane's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the registry exposed on /metrics. A dedicated registry keeps
// the scrape surface limited to autoqa collectors.
var Registry = prometheus.NewRegistry()

var (
	// ExecutionsTotal counts executions by terminal status.
	ExecutionsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "autoqa",
		Subsystem: "orchestrator",
		Name:      "executions_total",
		Help:      "Executions reaching a terminal status.",
	}, []string{"status"})

	// QueueDepth tracks queued messages per priority.
	QueueDepth = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "autoqa",
		Subsystem: "flow",
		Name:      "queue_depth",
		Help:      "Messages currently queued, by priority.",
	}, []string{"priority"})

	// QueueBytes tracks the flow controller's in-flight byte budget usage.
	QueueBytes = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "autoqa",
		Subsystem: "flow",
		Name:      "queue_bytes",
		Help:      "Bytes currently held by queued messages.",
	})

	// DroppedMessages counts backpressure drops by reason.
	DroppedMessages = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "autoqa",
		Subsystem: "flow",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped under backpressure, by reason.",
	}, []string{"reason"})

	// BreakerTransitions counts circuit breaker state transitions.
	BreakerTransitions = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "autoqa",
		Subsystem: "provider",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions, by provider and new state.",
	}, []string{"provider", "state"})

	// HealingAttempts counts healing strategy attempts by strategy and outcome.
	HealingAttempts = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "autoqa",
		Subsystem: "healing",
		Name:      "attempts_total",
		Help:      "Healing strategy attempts, by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// ActiveContainers tracks currently registered containers.
	ActiveContainers = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "autoqa",
		Subsystem: "container",
		Name:      "active_pods",
		Help:      "Containers currently registered with the manager.",
	})

	// ArtifactUploads counts artifact uploads by kind and outcome.
	ArtifactUploads = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "autoqa",
		Subsystem: "artifact",
		Name:      "uploads_total",
		Help:      "Artifact uploads, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// WSConnections tracks live event stream connections.
	WSConnections = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "autoqa",
		Subsystem: "api",
		Name:      "ws_connections",
		Help:      "Active WebSocket event stream connections.",
	})
)
