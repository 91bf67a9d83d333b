package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics. Registered on the default registry; exposition is the
// embedder's concern.
var (
	// ProviderRequests counts provider calls by provider and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider completion requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderRetries counts retry attempts by provider.
	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Subsystem: "provider",
		Name:      "retries_total",
		Help:      "Provider request retries by provider.",
	}, []string{"provider"})

	// ToolExecutions counts tool runs by tool name and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by tool and outcome.",
	}, []string{"tool", "outcome"})

	// ToolDuration observes tool execution latency.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quill",
		Subsystem: "tools",
		Name:      "duration_seconds",
		Help:      "Tool execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"tool"})

	// ExecutorIterations observes loop iterations per run.
	ExecutorIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quill",
		Subsystem: "executor",
		Name:      "iterations",
		Help:      "Tool-loop iterations per run.",
		Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
	})
)
