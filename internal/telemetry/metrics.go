package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeStopped = "stopped"
)

var (
	chatTTFT = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "surveyor",
		Subsystem: "chat",
		Name:      "ttft_seconds",
		Help:      "Time from stream start to the first emitted token.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	chatOutputSpeed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "surveyor",
		Subsystem: "chat",
		Name:      "output_tokens_per_second",
		Help:      "Estimated generation speed after the first token.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "surveyor",
		Subsystem: "tools",
		Name:      "latency_seconds",
		Help:      "Wall-clock latency of tool invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"tool"})
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveyor",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool invocations by shaped-response status.",
	}, []string{"tool", "status"})
	tasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveyor",
		Subsystem: "runner",
		Name:      "tasks_total",
		Help:      "Chat tasks by runner kind and outcome.",
	}, []string{"kind", "outcome"})
	ingestedPartitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveyor",
		Subsystem: "ingest",
		Name:      "partitions_total",
		Help:      "Ingestion attempts by terminal partition status.",
	}, []string{"status"})
)

// ObserveTTFT records seconds-to-first-token for one stream.
func ObserveTTFT(seconds float64) { chatTTFT.Observe(seconds) }

// ObserveOutputSpeed records estimated tokens per second for one stream.
func ObserveOutputSpeed(tokensPerSecond float64) { chatOutputSpeed.Observe(tokensPerSecond) }

// ObserveTool records one tool invocation.
func ObserveTool(tool, status string, latencySeconds float64) {
	toolLatency.WithLabelValues(tool).Observe(latencySeconds)
	toolCalls.WithLabelValues(tool, status).Inc()
}

// CountTask records one finished runner task.
func CountTask(kind, outcome string) { tasks.WithLabelValues(kind, outcome).Inc() }

// CountIngestedPartition records one partition reaching a terminal status.
func CountIngestedPartition(status string) { ingestedPartitions.WithLabelValues(status).Inc() }

// Handler serves the default registry for the /metrics route.
func Handler() http.Handler { return promhttp.Handler() }
