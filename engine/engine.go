package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/forgeflow/jobengine/agent"
	"github.com/forgeflow/jobengine/checkpoint"
	"github.com/forgeflow/jobengine/compiler"
	"github.com/forgeflow/jobengine/control"
	"github.com/forgeflow/jobengine/emit"
	"github.com/forgeflow/jobengine/input"
	"github.com/forgeflow/jobengine/jobstate"
	"github.com/forgeflow/jobengine/store"
)

// jobHandle is the Engine's in-memory record of a job it knows about: its
// latest state plus the compiled plan driving its execution. The store's
// state.json remains the durable source of truth; this is a cache the
// worker loop mutates directly between persists.
type jobHandle struct {
	mu    sync.Mutex
	state *jobstate.JobState
	plan  *compiler.ExecutionPlan
}

// Engine is the root composition object: a single struct wiring together
// the Compiler, Job Store, Agent Registry, Event Stream, Checkpoint
// Manager, and Control Plane, with no package-level singletons anywhere in
// this module (SPEC_FULL.md §9). Construct one with New and share it.
type Engine struct {
	cfg config

	compiler    *compiler.Compiler
	store       *store.Store
	registry    *agent.Registry
	emitter     emit.Emitter
	checkpoints *checkpoint.Manager
	control     *control.Plane
	logger      logr.Logger
	metrics     *Metrics
	breaker     *gobreaker.CircuitBreaker

	mu   sync.RWMutex
	jobs map[string]*jobHandle

	queue chan string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	closedMu sync.RWMutex
	closed   bool
}

// New constructs an Engine and starts its worker pool. Callers own the
// lifetime of the passed-in components (Store, Registry, etc.) — Engine
// never closes them, except via Shutdown's graceful worker drain.
func New(
	comp *compiler.Compiler,
	st *store.Store,
	reg *agent.Registry,
	emitter emit.Emitter,
	checkpoints *checkpoint.Manager,
	plane *control.Plane,
	logger logr.Logger,
	opts ...Option,
) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if emitter == nil {
		emitter = emit.NullEmitter{}
	}

	e := &Engine{
		cfg:         cfg,
		compiler:    comp,
		store:       st,
		registry:    reg,
		emitter:     emitter,
		checkpoints: checkpoints,
		control:     plane,
		logger:      logger,
		metrics:     cfg.metrics,
		jobs:        make(map[string]*jobHandle),
		queue:       make(chan string, cfg.queueDepth),
		stopCh:      make(chan struct{}),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "job-store-persist",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}

	for i := 0; i < cfg.workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(i)
	}
	return e
}

// Shutdown stops accepting new work and waits for in-flight jobs to reach
// their next yield point, or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closedMu.Lock()
	e.closed = true
	e.closedMu.Unlock()

	e.stopOnce.Do(func() { close(e.stopCh) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isClosed() bool {
	e.closedMu.RLock()
	defer e.closedMu.RUnlock()
	return e.closed
}

// Submit compiles workflowID, creates a pending JobState, persists it, and
// enqueues it for a worker (spec.md §4.2 submit).
func (e *Engine) Submit(workflowID string, inputs map[string]any, correlationID string) (string, error) {
	if e.isClosed() {
		return "", ErrEngineClosed
	}

	plan, err := e.compiler.Compile(workflowID)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	inputs, err = e.resolveContext(inputs)
	if err != nil {
		return "", fmt.Errorf("submit: resolve input: %w", err)
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()

	stepOrder := make([]string, len(plan.Steps))
	steps := make(map[string]jobstate.StepRecord, len(plan.Steps))
	for i, s := range plan.Steps {
		stepOrder[i] = s.StepID
		steps[s.StepID] = jobstate.StepRecord{StepID: s.StepID, Status: jobstate.StepPending}
	}

	state := &jobstate.JobState{
		Metadata: jobstate.JobMetadata{
			JobID:         jobID,
			WorkflowID:    workflowID,
			Status:        jobstate.JobPending,
			CreatedAt:     now,
			UpdatedAt:     now,
			CorrelationID: correlationID,
		},
		Inputs:    inputs,
		Params:    map[string]any{},
		Steps:     steps,
		StepOrder: stepOrder,
		Outputs:   map[string]any{},
	}

	if err := e.persist(*state); err != nil {
		return "", fmt.Errorf("submit: persist: %w", err)
	}

	e.mu.Lock()
	e.jobs[jobID] = &jobHandle{state: state, plan: plan}
	e.mu.Unlock()

	e.control.Register(jobID)
	e.emit(emit.Event{Type: emit.JobSubmitted, JobID: jobID, CorrelationID: correlationID, Timestamp: now})

	if err := e.enqueue(jobID); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// resolveContext runs the input Resolver over inputs["_input_spec"], if
// both an Option-configured Resolver and that key are present, replacing
// it with the resolved ContextSet under "_context" (spec.md §4.8). With
// no resolver configured or no spec given, inputs pass through
// unchanged.
func (e *Engine) resolveContext(inputs map[string]any) (map[string]any, error) {
	if e.cfg.inputResolver == nil || inputs == nil {
		return inputs, nil
	}
	raw, ok := inputs["_input_spec"]
	if !ok {
		return inputs, nil
	}
	spec, ok := raw.(input.InputSpec)
	if !ok {
		return nil, fmt.Errorf("_input_spec must be an input.InputSpec, got %T", raw)
	}

	ctxSet, err := e.cfg.inputResolver.Resolve(spec)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if k == "_input_spec" {
			continue
		}
		out[k] = v
	}
	out["_context"] = map[string]any{
		"primary_content": ctxSet.PrimaryContent,
		"sources":         ctxSet.Sources,
		"metadata":        ctxSet.Metadata,
	}
	return out, nil
}

func (e *Engine) enqueue(jobID string) error {
	select {
	case e.queue <- jobID:
		e.metrics.setQueueDepth(len(e.queue))
		return nil
	case <-e.stopCh:
		return ErrEngineClosed
	default:
	}
	// Queue momentarily full: wait with a bounded timeout so Submit/Resume
	// never block forever (spec.md §5 suspension point 1).
	select {
	case e.queue <- jobID:
		e.metrics.setQueueDepth(len(e.queue))
		return nil
	case <-time.After(5 * time.Second):
		return ErrQueueFull
	case <-e.stopCh:
		return ErrEngineClosed
	}
}

// GetStatus returns a job's current metadata.
func (e *Engine) GetStatus(jobID string) (*jobstate.JobMetadata, error) {
	h, err := e.handle(jobID)
	if err == nil {
		h.mu.Lock()
		meta := h.state.Metadata
		h.mu.Unlock()
		return &meta, nil
	}

	state, loadErr := e.store.Load(jobID, true)
	if loadErr != nil {
		return nil, ErrJobNotFound
	}
	return &state.Metadata, nil
}

// List returns job summaries, delegating directly to the Job Store.
func (e *Engine) List(status jobstate.JobStatus, limit int, includeArchive bool) ([]store.Summary, error) {
	return e.store.List(status, limit, includeArchive)
}

// Delete removes a job from storage. Non-terminal jobs require force=true,
// and are cancelled first so a worker does not keep operating on deleted
// state.
func (e *Engine) Delete(jobID string, force bool) error {
	h, err := e.handle(jobID)
	if err == nil {
		h.mu.Lock()
		terminal := h.state.Metadata.Status.Terminal()
		h.mu.Unlock()
		if !terminal && !force {
			return fmt.Errorf("%w: job not terminal", ErrInvalidTransition)
		}
		if !terminal {
			_ = e.control.Cancel(jobID)
		}
		e.mu.Lock()
		delete(e.jobs, jobID)
		e.mu.Unlock()
		e.control.Forget(jobID)
	}
	return e.store.Delete(jobID)
}

func (e *Engine) handle(jobID string) (*jobHandle, error) {
	e.mu.RLock()
	h, ok := e.jobs[jobID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return h, nil
}

func (e *Engine) persist(state jobstate.JobState) error {
	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.store.Save(state)
	})
	if err != nil && e.breaker.State() == gobreaker.StateOpen {
		// Repeated persistence failures tripped the breaker: stop taking
		// new jobs rather than risk corrupting state.
		e.closedMu.Lock()
		e.closed = true
		e.closedMu.Unlock()
	}
	return err
}

func (e *Engine) emit(ev emit.Event) {
	e.emitter.Emit(ev)
	e.logJobTrace(ev)
}

// logJobTrace appends a human-readable line for ev to the job's
// logs/job.log (spec.md §6), giving an operator something to tail besides
// the JSON event stream. Failure to write is logged but never blocks
// dispatch.
func (e *Engine) logJobTrace(ev emit.Event) {
	if ev.JobID == "" {
		return
	}
	line := fmt.Sprintf("%s %s", ev.Timestamp.Format(time.RFC3339), ev.Type)
	if ev.StepID != "" {
		line += " step=" + ev.StepID
	}
	if ev.AgentID != "" {
		line += " agent=" + ev.AgentID
	}
	if msg, ok := ev.Payload["error"]; ok {
		line += fmt.Sprintf(" error=%v", msg)
	}
	if err := e.store.AppendLog(ev.JobID, line); err != nil {
		e.logger.Error(err, "append job log failed", "job_id", ev.JobID)
	}
}

func (e *Engine) workerLoop(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case jobID, ok := <-e.queue:
			if !ok {
				return
			}
			e.metrics.setQueueDepth(len(e.queue))
			e.metrics.setInflight(id + 1)
			e.runJob(jobID)
			e.metrics.setInflight(0)
		}
	}
}

// runJob drives one job's execution loop (spec.md §4.2 steps 1-7): claim
// the job, iterate its compiled plan honouring dependencies/conditions and
// control signals, dispatch each runnable step, persist after every step,
// and settle the job into a terminal or suspended status.
func (e *Engine) runJob(jobID string) {
	h, err := e.handle(jobID)
	if err != nil {
		e.logger.Error(err, "worker picked up unknown job", "job_id", jobID)
		return
	}

	h.mu.Lock()
	if h.state.Metadata.Status.Terminal() || h.state.Metadata.Status == jobstate.JobPaused {
		h.mu.Unlock()
		return
	}
	if h.state.Metadata.Status == jobstate.JobPending {
		now := time.Now().UTC()
		h.state.Metadata.Status = jobstate.JobRunning
		h.state.Metadata.StartedAt = &now
	}
	snapshot := h.state.Clone()
	h.mu.Unlock()

	if err := e.persist(snapshot); err != nil {
		e.logger.Error(err, "persist running state failed", "job_id", jobID)
	}
	e.emit(emit.Event{Type: emit.JobStarted, JobID: jobID, CorrelationID: snapshot.Metadata.CorrelationID, Timestamp: time.Now().UTC()})

	for {
		sig := e.control.Check(jobID)
		h.mu.Lock()
		if len(sig.NewParams) > 0 {
			applyParams(h.state, sig.NewParams)
		}
		status := h.state.Metadata.Status
		h.mu.Unlock()

		switch sig.Action {
		case control.ActionCancel:
			e.settleTerminal(h, jobstate.JobCancelled, "")
			return
		case control.ActionPause:
			e.settleSuspend(h, jobstate.JobPaused)
			return
		}
		if status != jobstate.JobRunning {
			return
		}

		stepID, done := e.nextRunnableStep(h)
		if done {
			e.completeJob(h)
			return
		}
		if stepID == "" {
			// No step is currently runnable (all remaining are blocked on a
			// condition or dependency that never resolved) but the plan is
			// not exhausted — this is a stuck job; fail it rather than spin.
			e.settleTerminal(h, jobstate.JobFailed, "no runnable step: workflow stalled")
			return
		}

		if err := e.runStep(h, stepID); err != nil {
			switch {
			case errors.Is(err, errApprovalPending):
				e.settleSuspend(h, jobstate.JobPaused)
				return
			case errors.Is(err, errStepSuspended):
				switch resig := e.control.Check(jobID); resig.Action {
				case control.ActionCancel:
					e.settleTerminal(h, jobstate.JobCancelled, "")
				case control.ActionPause:
					e.settleSuspend(h, jobstate.JobPaused)
				}
				return
			default:
				e.settleTerminal(h, jobstate.JobFailed, err.Error())
				return
			}
		}

		h.mu.Lock()
		snap := h.state.Clone()
		h.mu.Unlock()
		if err := e.persist(snap); err != nil {
			e.logger.Error(err, "persist after step failed", "job_id", jobID)
		}
	}
}

// nextRunnableStep returns the id of the next step whose dependencies are
// all completed (or skipped) and whose condition passes, or ("", true) if
// every step has reached a terminal per-step status.
func (e *Engine) nextRunnableStep(h *jobHandle) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	allDone := true
	for _, stepID := range h.state.StepOrder {
		rec := h.state.Steps[stepID]
		if rec.Status == jobstate.StepPending || rec.Status == jobstate.StepRetrying {
			allDone = false
			step, _ := h.plan.StepByID(stepID)
			if !depsSatisfied(h.state, step.Dependencies) {
				continue
			}
			if step.Condition != nil && !step.Condition.Evaluate(h.state.Outputs) {
				rec.Status = jobstate.StepSkipped
				h.state.Steps[stepID] = rec
				continue
			}
			return stepID, false
		}
	}
	return "", allDone
}

func depsSatisfied(state *jobstate.JobState, deps []string) bool {
	for _, d := range deps {
		rec, ok := state.Steps[d]
		if !ok {
			return false
		}
		if rec.Status != jobstate.StepCompleted && rec.Status != jobstate.StepSkipped {
			return false
		}
	}
	return true
}

func applyParams(state *jobstate.JobState, params map[string]any) {
	if state.Params == nil {
		state.Params = map[string]any{}
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		state.Params[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	state.Metadata.AuditLog = append(state.Metadata.AuditLog, jobstate.ParamUpdateAudit{
		Timestamp:     time.Now().UTC(),
		CorrelationID: state.Metadata.CorrelationID,
		MergedKeys:    keys,
	})
}

func (e *Engine) completeJob(h *jobHandle) {
	h.mu.Lock()
	jobID := h.state.Metadata.JobID
	h.mu.Unlock()

	if err := e.runCompletionGate(h); err != nil {
		e.settleTerminal(h, jobstate.JobFailed, err.Error())
		return
	}

	h.mu.Lock()
	now := time.Now().UTC()
	h.state.Metadata.Status = jobstate.JobCompleted
	h.state.Metadata.CompletedAt = &now
	snap := h.state.Clone()
	h.mu.Unlock()

	if err := e.persist(snap); err != nil {
		e.logger.Error(err, "persist completed state failed", "job_id", jobID)
	}
	e.metrics.recordJobTerminal("completed")
	e.control.Forget(jobID)
	e.emit(emit.Event{Type: emit.JobCompleted, JobID: jobID, Timestamp: now})
}

func (e *Engine) settleTerminal(h *jobHandle, status jobstate.JobStatus, errMsg string) {
	h.mu.Lock()
	jobID := h.state.Metadata.JobID
	corrID := h.state.Metadata.CorrelationID
	if !jobstate.IsValidTransition(h.state.Metadata.Status, status) {
		h.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	h.state.Metadata.Status = status
	h.state.Metadata.CompletedAt = &now
	h.state.Metadata.ErrorMessage = errMsg
	snap := h.state.Clone()
	h.mu.Unlock()

	if err := e.persist(snap); err != nil {
		e.logger.Error(err, "persist terminal state failed", "job_id", jobID)
	}
	e.metrics.recordJobTerminal(string(status))
	e.control.Forget(jobID)

	evType := emit.JobFailed
	if status == jobstate.JobCancelled {
		evType = emit.JobCancelled
	}
	e.emit(emit.Event{Type: evType, JobID: jobID, CorrelationID: corrID, Timestamp: now, Payload: map[string]any{"error": errMsg}})
}

func (e *Engine) settleSuspend(h *jobHandle, status jobstate.JobStatus) {
	h.mu.Lock()
	jobID := h.state.Metadata.JobID
	corrID := h.state.Metadata.CorrelationID
	if !jobstate.IsValidTransition(h.state.Metadata.Status, status) {
		h.mu.Unlock()
		return
	}
	h.state.Metadata.Status = status
	snap := h.state.Clone()
	h.mu.Unlock()

	if err := e.persist(snap); err != nil {
		e.logger.Error(err, "persist paused state failed", "job_id", jobID)
	}
	e.emit(emit.Event{Type: emit.JobPaused, JobID: jobID, CorrelationID: corrID, Timestamp: time.Now().UTC()})
}

// runCompletionGate checks a job's merged outputs against the
// Option-configured input.CompletenessGate before it is allowed to
// transition to completed (spec.md §4.8 step 7). Each step's output map is
// merged into one map in plan order, a later step's key replacing an
// earlier one. With no gate configured, it only requires a non-nil
// Outputs map.
func (e *Engine) runCompletionGate(h *jobHandle) error {
	h.mu.Lock()
	outputs := h.state.Outputs
	merged := make(map[string]any)
	for _, id := range h.state.StepOrder {
		if out, ok := outputs[id].(map[string]any); ok {
			for k, v := range out {
				merged[k] = v
			}
		}
	}
	h.mu.Unlock()

	if e.cfg.completenessGate == nil {
		if outputs == nil {
			return fmt.Errorf("no outputs produced")
		}
		return nil
	}

	result := e.cfg.completenessGate.Check(merged)
	if !result.Valid {
		return fmt.Errorf("completeness gate rejected output: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}
