package engine

import (
	"time"

	"github.com/forgeflow/jobengine/input"
)

// Option configures an Engine at construction time, following the
// functional-options pattern used throughout this module.
type Option func(*config)

type config struct {
	workers            int
	queueDepth         int
	defaultStepTimeout time.Duration
	parallelSteps      bool
	checkpointKeepLast int
	metrics            *Metrics
	inputResolver      *input.Resolver
	completenessGate   *input.CompletenessGate
}

func defaultConfig() config {
	return config{
		workers:            4,
		queueDepth:         256,
		defaultStepTimeout: 5 * time.Minute,
		parallelSteps:      false,
		checkpointKeepLast: 20,
	}
}

// WithWorkers sets the number of concurrent job workers. Default 4.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueDepth sets the capacity of the FIFO submit queue. Default 256.
func WithQueueDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueDepth = n
		}
	}
}

// WithDefaultStepTimeout sets the per-step timeout used when a step
// definition does not specify its own. Default 5m.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(c *config) { c.defaultStepTimeout = d }
}

// WithParallelSteps records whether the independent steps of a wave may
// run concurrently. The execution loop does not read this setting: it
// dispatches one step at a time whatever the value.
func WithParallelSteps(enabled bool) Option {
	return func(c *config) { c.parallelSteps = enabled }
}

// WithCheckpointRetention sets the per-job checkpoint retention count held
// in the engine's configuration. Default 20. The engine runs no checkpoint
// cleanup pass of its own and does not read this value;
// checkpoint.Manager.Cleanup takes its own keepLast argument.
func WithCheckpointRetention(keepLast int) Option {
	return func(c *config) {
		if keepLast > 0 {
			c.checkpointKeepLast = keepLast
		}
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithInputResolver attaches a Resolver that Submit consults when a
// caller's inputs carry an "_input_spec" entry, merging the resolved
// ContextSet into inputs under "_context" after the workflow compiles and
// before the job is persisted (spec.md §4.8).
func WithInputResolver(r *input.Resolver) Option {
	return func(c *config) { c.inputResolver = r }
}

// WithCompletenessGate attaches a gate that runs against a job's merged
// outputs before it is allowed to transition to completed (spec.md
// §4.8). Without one, the engine only checks that Outputs is non-nil.
func WithCompletenessGate(g *input.CompletenessGate) Option {
	return func(c *config) { c.completenessGate = g }
}
