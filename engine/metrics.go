package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for the execution engine,
// mirroring the teacher's instrument-everything style for its own 6
// workflow-level signals.
type Metrics struct {
	jobsInflight   prometheus.Gauge
	queueDepth     prometheus.Gauge
	stepLatency    *prometheus.HistogramVec
	stepRetries    *prometheus.CounterVec
	jobsTotal      *prometheus.CounterVec
	checkpointsTot *prometheus.CounterVec
}

// NewMetrics registers the engine's metrics with registry. Pass nil to use
// the default global registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		jobsInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobengine",
			Name:      "jobs_inflight",
			Help:      "Number of jobs currently being executed by a worker.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobengine",
			Name:      "queue_depth",
			Help:      "Number of jobs waiting for a free worker.",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobengine",
			Name:      "step_latency_seconds",
			Help:      "Step execution duration in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"agent_id", "status"}),
		stepRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "step_retries_total",
			Help:      "Cumulative step retry attempts.",
		}, []string{"agent_id"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "jobs_total",
			Help:      "Cumulative jobs by terminal status.",
		}, []string{"status"}),
		checkpointsTot: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobengine",
			Name:      "checkpoints_total",
			Help:      "Cumulative checkpoints saved.",
		}, []string{"approval_required"}),
	}
}

func (m *Metrics) recordStep(agentID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(agentID, status).Observe(d.Seconds())
}

func (m *Metrics) recordRetry(agentID string) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(agentID).Inc()
}

func (m *Metrics) recordJobTerminal(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) recordCheckpoint(approvalRequired bool) {
	if m == nil {
		return
	}
	label := "false"
	if approvalRequired {
		label = "true"
	}
	m.checkpointsTot.WithLabelValues(label).Inc()
}

func (m *Metrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.jobsInflight.Set(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
