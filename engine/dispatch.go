package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgeflow/jobengine/agent"
	"github.com/forgeflow/jobengine/compiler"
	"github.com/forgeflow/jobengine/control"
	"github.com/forgeflow/jobengine/emit"
	"github.com/forgeflow/jobengine/jobstate"
)

// errStepSuspended is returned by runStep when the control plane requests
// pause or cancel between retry attempts, so runJob can settle the job
// without treating the interruption as a step failure.
var errStepSuspended = errors.New("engine: step interrupted by control signal")

// runStep dispatches a single step to its agent: assembles input, resolves
// the agent from the Registry, enforces timeout_seconds, retries on
// failure up to max_retries, and emits a lifecycle event on every
// transition (spec.md §4.3). It returns errApprovalPending when the step
// completed behind an approval gate, errStepSuspended when a pause or
// cancel interrupted it (the step is put back to pending), and any other
// non-nil error only when the job as a whole must terminate as failed (the
// step is not optional and continue_on_error is false for its workflow).
func (e *Engine) runStep(h *jobHandle, stepID string) error {
	h.mu.Lock()
	step, _ := h.plan.StepByID(stepID)
	jobID := h.state.Metadata.JobID
	corrID := h.state.Metadata.CorrelationID
	continueOnError := h.plan.Config.ContinueOnError
	rec := h.state.Steps[stepID]
	rec.Status = jobstate.StepRunning
	now := time.Now().UTC()
	rec.StartedAt = &now
	h.state.Steps[stepID] = rec
	h.mu.Unlock()

	ag, err := e.registry.Get(step.AgentID)
	if err != nil {
		return e.failStep(h, step, fmt.Sprintf("agent not found: %v", err), continueOnError)
	}

	suspend := func() error {
		h.mu.Lock()
		r := h.state.Steps[stepID]
		r.Status = jobstate.StepPending
		h.state.Steps[stepID] = r
		h.mu.Unlock()
		return errStepSuspended
	}

	for {
		if sig := e.control.Check(jobID); sig.Action == control.ActionCancel || sig.Action == control.ActionPause {
			return suspend()
		}

		input := e.assembleInput(h, step, ag.Contract())
		if err := ag.Contract().ValidateInputs(input); err != nil {
			return e.failStep(h, step, err.Error(), continueOnError)
		}

		e.emit(emit.Event{Type: emit.StepStarted, JobID: jobID, CorrelationID: corrID, StepID: stepID, AgentID: step.AgentID, Timestamp: time.Now().UTC()})

		timeout := time.Duration(step.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = e.cfg.defaultStepTimeout
		}
		output, execErr := e.invokeWithControl(jobID, stepID, ag, input, timeout)
		if errors.Is(execErr, context.Canceled) {
			return suspend()
		}

		h.mu.Lock()
		rec := h.state.Steps[stepID]
		h.mu.Unlock()

		if execErr == nil {
			h.mu.Lock()
			completedAt := time.Now().UTC()
			rec.Status = jobstate.StepCompleted
			rec.CompletedAt = &completedAt
			rec.Output = output
			h.state.Steps[stepID] = rec
			if h.state.Outputs == nil {
				h.state.Outputs = map[string]any{}
			}
			h.state.Outputs[stepID] = output
			snapshot := h.state.Clone()
			h.mu.Unlock()

			e.metrics.recordStep(step.AgentID, "success", time.Since(*rec.StartedAt))
			e.emit(emit.Event{Type: emit.StepCompleted, JobID: jobID, CorrelationID: corrID, StepID: stepID, AgentID: step.AgentID, Timestamp: completedAt})

			if len(ag.Contract().Checkpoints) > 0 {
				cpData := map[string]any{"outputs": snapshot.Outputs, "steps": snapshot.Steps}
				if _, cpErr := e.checkpoints.Save(jobID, stepID, cpData, step.ApprovalRequired); cpErr != nil {
					e.logger.Error(cpErr, "save checkpoint failed", "job_id", jobID, "step_id", stepID)
				} else {
					e.metrics.recordCheckpoint(step.ApprovalRequired)
					if step.ApprovalRequired {
						return errApprovalPending
					}
				}
			}
			return nil
		}

		e.metrics.recordStep(step.AgentID, "error", timeout)
		if rec.Attempt < step.MaxRetries && !errors.Is(execErr, context.DeadlineExceeded) {
			h.mu.Lock()
			rec.Attempt++
			rec.Status = jobstate.StepRetrying
			rec.Error = execErr.Error()
			h.state.Steps[stepID] = rec
			h.mu.Unlock()
			e.metrics.recordRetry(step.AgentID)
			e.emit(emit.Event{Type: emit.StepFailed, JobID: jobID, CorrelationID: corrID, StepID: stepID, AgentID: step.AgentID, Timestamp: time.Now().UTC(), Payload: map[string]any{"error": execErr.Error(), "attempt": rec.Attempt - 1}})
			continue
		}

		return e.failStep(h, step, execErr.Error(), continueOnError)
	}
}

// invokeWithControl runs the agent's Execute with a hard timeout, polling
// the control plane at a cadence no looser than the bounded-latency
// contract (spec.md §4.5: pause/cancel observed within two seconds even
// during a long-running call) so a long agent invocation does not hide a
// pending pause or cancel from the rest of the execution loop.
func (e *Engine) invokeWithControl(jobID, stepID string, ag agent.Agent, input map[string]any, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		out map[string]any
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		out, err := ag.Execute(ctx, input)
		resultCh <- result{out, err}
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case r := <-resultCh:
			return r.out, r.err
		case <-ticker.C:
			sig := e.control.Check(jobID)
			if sig.Action == control.ActionCancel || sig.Action == control.ActionPause {
				cancel()
				<-resultCh
				return nil, context.Canceled
			}
		case <-ctx.Done():
			<-resultCh
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) failStep(h *jobHandle, step compiler.ExecutionStep, reason string, continueOnError bool) error {
	h.mu.Lock()
	rec := h.state.Steps[step.StepID]
	now := time.Now().UTC()
	rec.Status = jobstate.StepFailed
	rec.CompletedAt = &now
	rec.Error = reason
	h.state.Steps[step.StepID] = rec
	jobID := h.state.Metadata.JobID
	corrID := h.state.Metadata.CorrelationID
	h.mu.Unlock()

	e.emit(emit.Event{Type: emit.StepFailed, JobID: jobID, CorrelationID: corrID, StepID: step.StepID, AgentID: step.AgentID, Timestamp: now, Payload: map[string]any{"error": reason}})

	if step.Optional || continueOnError {
		h.mu.Lock()
		rec := h.state.Steps[step.StepID]
		rec.Status = jobstate.StepSkipped
		h.state.Steps[step.StepID] = rec
		h.mu.Unlock()
		e.emit(emit.Event{Type: emit.StepSkipped, JobID: jobID, CorrelationID: corrID, StepID: step.StepID, AgentID: step.AgentID, Timestamp: time.Now().UTC()})
		return nil
	}
	return &StepError{JobID: jobID, StepID: step.StepID, Err: errors.New(reason)}
}

// assembleInput merges workflow config, job inputs, accumulated step
// outputs, and the synthetic job/workflow/agent identity keys into the map
// handed to an agent's Execute (spec.md §4.3).
func (e *Engine) assembleInput(h *jobHandle, step compiler.ExecutionStep, contract agent.Contract) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	input := map[string]any{}
	for k, v := range h.state.Inputs {
		input[k] = v
	}
	for k, v := range h.state.Params {
		input[k] = v
	}
	for k, v := range h.state.Outputs {
		input[k] = v
	}
	input["_job_id"] = h.state.Metadata.JobID
	input["_workflow_id"] = h.state.Metadata.WorkflowID
	input["_agent_id"] = step.AgentID
	return input
}
