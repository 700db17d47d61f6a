package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/forgeflow/jobengine/control"
	"github.com/forgeflow/jobengine/jobstate"
)

// StepMode re-exports control.StepMode so callers need not import the
// control package directly for this narrow surface.
type StepMode = control.StepMode

// Pause requests cooperative suspension of a running job (spec.md §4.2).
// Only valid while the job is running; the worker observes the flag at
// its next yield point and transitions the job to paused itself.
func (e *Engine) Pause(jobID string) error {
	h, err := e.handle(jobID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	status := h.state.Metadata.Status
	h.mu.Unlock()
	if status != jobstate.JobRunning {
		return fmt.Errorf("%w: pause requires running, got %s", ErrInvalidTransition, status)
	}
	return e.control.Pause(jobID)
}

// Resume clears a job's pause flag and, if the worker already released it
// back to the pool, re-enqueues it (spec.md §4.2).
func (e *Engine) Resume(jobID string, params map[string]any) error {
	h, err := e.handle(jobID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	status := h.state.Metadata.Status
	h.mu.Unlock()
	if status != jobstate.JobPaused {
		return fmt.Errorf("%w: resume requires paused, got %s", ErrInvalidTransition, status)
	}
	if err := e.control.Resume(jobID, params); err != nil {
		return err
	}

	h.mu.Lock()
	h.state.Metadata.Status = jobstate.JobRunning
	snap := h.state.Clone()
	h.mu.Unlock()
	if err := e.persist(snap); err != nil {
		e.logger.Error(err, "persist resume failed", "job_id", jobID)
	}
	return e.enqueue(jobID)
}

// Cancel requests cooperative cancellation from any non-terminal status. A
// pending job (never dequeued) or a paused job (already released by its
// worker) is transitioned directly since no worker will observe the flag.
func (e *Engine) Cancel(jobID string) error {
	h, err := e.handle(jobID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	status := h.state.Metadata.Status
	h.mu.Unlock()
	if status.Terminal() {
		return fmt.Errorf("%w: job already terminal (%s)", ErrInvalidTransition, status)
	}

	if status == jobstate.JobPending || status == jobstate.JobPaused {
		e.settleTerminal(h, jobstate.JobCancelled, "")
		return nil
	}
	return e.control.Cancel(jobID)
}

// Step arms a single-shot step-mode debugging signal against a running or
// paused job. The execution loop receives it once as control.ActionStep and
// proceeds as for ActionContinue; it does not block on it.
func (e *Engine) Step(jobID string, mode StepMode) error {
	if _, err := e.handle(jobID); err != nil {
		return err
	}
	return e.control.Step(jobID, mode)
}

// UpdateParams merges params into a running or paused job's inputs and
// records an audit entry (spec.md §4.2). Delivery to the execution loop
// goes through the control plane so it is observed within the bounded
// latency contract even while a step is in flight.
func (e *Engine) UpdateParams(jobID string, params map[string]any, correlationID string) error {
	h, err := e.handle(jobID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	status := h.state.Metadata.Status
	h.mu.Unlock()
	if status != jobstate.JobRunning && status != jobstate.JobPaused {
		return fmt.Errorf("%w: update_params requires running or paused, got %s", ErrInvalidTransition, status)
	}

	if err := e.control.SetParams(jobID, params); err != nil {
		return err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h.mu.Lock()
	h.state.Metadata.AuditLog = append(h.state.Metadata.AuditLog, jobstate.ParamUpdateAudit{
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		MergedKeys:    keys,
	})
	snap := h.state.Clone()
	h.mu.Unlock()

	return e.persist(snap)
}

// RestoreFromCheckpoint replaces a job's full state snapshot (outputs and
// per-step records) from a saved checkpoint, resetting every step ordered
// after the checkpoint's step_name back to pending so they re-execute, then
// optionally re-enqueues the job (spec.md §4.2, §8 scenario 6). This
// replaces state, it does not merge it: a job restored to a checkpoint
// before step b forgets that b or any step after it ever ran.
func (e *Engine) RestoreFromCheckpoint(checkpointID string, jobID string, resume bool) error {
	cp, err := e.checkpoints.Get(jobID, checkpointID)
	if err != nil {
		return err
	}

	h, err := e.handle(jobID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if outputs, ok := cp.StateSnapshot["outputs"].(map[string]any); ok {
		h.state.Outputs = outputs
	} else {
		h.state.Outputs = map[string]any{}
	}
	if stepsRaw, ok := cp.StateSnapshot["steps"]; ok {
		if steps, derr := decodeStepsSnapshot(stepsRaw); derr == nil {
			h.state.Steps = steps
		} else {
			e.logger.Error(derr, "decode checkpoint steps failed", "job_id", jobID, "checkpoint_id", checkpointID)
		}
	}
	resetStepsAfter(h.state, cp.StepName)
	if resume {
		h.state.Metadata.Status = jobstate.JobPending
	}
	snap := h.state.Clone()
	h.mu.Unlock()

	if err := e.persist(snap); err != nil {
		return err
	}
	if resume {
		return e.enqueue(jobID)
	}
	return nil
}

// decodeStepsSnapshot recovers a typed Steps map from a checkpoint's
// generic StateSnapshot value. A checkpoint always comes back from disk as
// a map[string]interface{}, so a JSON round trip is the simplest path to
// typed StepRecords regardless of the snapshot's original concrete type.
func decodeStepsSnapshot(raw any) (map[string]jobstate.StepRecord, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var steps map[string]jobstate.StepRecord
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// resetStepsAfter clears every step ordered after stepName back to
// pending. Taken defensively in addition to the checkpoint's own snapshot:
// a checkpoint saved right as stepName completed should already show its
// downstream steps as pending, but a decode failure or a future checkpoint
// source should not be able to leave a stale completed status behind.
func resetStepsAfter(state *jobstate.JobState, stepName string) {
	idx := -1
	for i, id := range state.StepOrder {
		if id == stepName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for _, id := range state.StepOrder[idx+1:] {
		state.Steps[id] = jobstate.StepRecord{StepID: id, Status: jobstate.StepPending}
	}
}

// ApproveCheckpoint resolves an approval-gated checkpoint. Approval
// resumes the job to running; denial marks the gating step skipped and
// leaves the job paused for an operator to resume or cancel explicitly.
func (e *Engine) ApproveCheckpoint(jobID, checkpointID string, approved bool) error {
	cp, err := e.checkpoints.Approve(jobID, checkpointID, approved)
	if err != nil {
		return err
	}

	h, herr := e.handle(jobID)
	if herr != nil {
		return herr
	}

	h.mu.Lock()
	if approved {
		h.state.Metadata.Status = jobstate.JobRunning
	} else if rec, ok := h.state.Steps[cp.StepName]; ok {
		rec.Status = jobstate.StepSkipped
		h.state.Steps[cp.StepName] = rec
	}
	snap := h.state.Clone()
	h.mu.Unlock()

	if err := e.persist(snap); err != nil {
		return err
	}
	if approved {
		return e.enqueue(jobID)
	}
	return nil
}
