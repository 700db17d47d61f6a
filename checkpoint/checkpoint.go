// Package checkpoint implements the Checkpoint Manager: append-only named
// snapshots of job state, with an optional approval gate that pauses a job
// until an operator approves or denies continuation.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/forgeflow/jobengine/internal/atomicfile"
	"github.com/forgeflow/jobengine/internal/pathutil"
)

// ApprovalStatus is the approval-gate state of a checkpoint that declared
// approval_required.
type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Checkpoint is a durable, named snapshot of job state at a step boundary.
type Checkpoint struct {
	CheckpointID     string         `json:"checkpoint_id"`
	JobID            string         `json:"job_id"`
	StepName         string         `json:"step_name"`
	Timestamp        time.Time      `json:"timestamp"`
	WorkflowVersion  string         `json:"workflow_version,omitempty"`
	StateSnapshot    map[string]any `json:"state_snapshot"`
	ApprovalRequired bool           `json:"approval_required"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty"`
}

// ErrNotFound indicates get/delete/restore was called with an unknown
// checkpoint id.
var ErrNotFound = errors.New("checkpoint not found")

// ErrInvalidKeepLast indicates Cleanup was called with a retention count
// outside [1, 100].
var ErrInvalidKeepLast = errors.New("keep_last must be between 1 and 100")

// Manager persists checkpoints as individual JSON files under
// <jobs_root>/<job_id>/checkpoints/<id>.json, using the same
// write-then-rename discipline as the job store so a crash mid-write never
// leaves a half-written checkpoint behind.
type Manager struct {
	jobsRoot string
}

// New returns a Manager rooted at the same directory the Job Store uses.
func New(jobsRoot string) *Manager {
	return &Manager{jobsRoot: jobsRoot}
}

func (m *Manager) checkpointsDir(jobID string) (string, error) {
	return pathutil.SafeJoin(m.jobsRoot, jobID, "checkpoints")
}

// Save writes a new checkpoint, append-only (Save never overwrites an
// existing id). ApprovalRequired, when true, is the caller's signal to
// also transition the job to paused/approval_status=pending — the Manager
// itself only tracks the checkpoint's own approval state; job transitions
// are the Engine's responsibility (SPEC_FULL.md §4.4).
func (m *Manager) Save(jobID, stepName string, snapshot map[string]any, approvalRequired bool) (*Checkpoint, error) {
	dir, err := m.checkpointsDir(jobID)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		CheckpointID:     uuid.NewString(),
		JobID:            jobID,
		StepName:         stepName,
		Timestamp:        time.Now().UTC(),
		StateSnapshot:    snapshot,
		ApprovalRequired: approvalRequired,
	}
	if approvalRequired {
		cp.ApprovalStatus = ApprovalPending
	}

	path, err := pathutil.SafeJoin(dir, cp.CheckpointID+".json")
	if err != nil {
		return nil, err
	}
	if err := atomicfile.WriteJSON(path, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	return cp, nil
}

// Get loads a single checkpoint by id. A corrupt file is reported as
// ErrNotFound, matching the "corrupt checkpoints are logged and skipped
// during recovery" failure semantics (SPEC_FULL.md §4.4).
func (m *Manager) Get(jobID, checkpointID string) (*Checkpoint, error) {
	dir, err := m.checkpointsDir(jobID)
	if err != nil {
		return nil, err
	}
	path, err := pathutil.SafeJoin(dir, checkpointID+".json")
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := atomicfile.ReadJSON(path, &cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, checkpointID, err)
	}
	return &cp, nil
}

// List returns all checkpoints for a job, newest first. Unreadable
// (corrupt) checkpoint files are skipped rather than failing the call.
func (m *Manager) List(jobID string) ([]Checkpoint, error) {
	dir, err := m.checkpointsDir(jobID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var cp Checkpoint
		if err := atomicfile.ReadJSON(filepath.Join(dir, entry.Name()), &cp); err != nil {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Restore returns the snapshot stored in a checkpoint. Callers (the
// Engine) decide whether to resume the job from it.
func (m *Manager) Restore(jobID, checkpointID string) (map[string]any, error) {
	cp, err := m.Get(jobID, checkpointID)
	if err != nil {
		return nil, err
	}
	return cp.StateSnapshot, nil
}

// Delete removes a single checkpoint.
func (m *Manager) Delete(jobID, checkpointID string) error {
	dir, err := m.checkpointsDir(jobID)
	if err != nil {
		return err
	}
	path, err := pathutil.SafeJoin(dir, checkpointID+".json")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
		}
		return err
	}
	return nil
}

// Cleanup retains only the most recent keepLast checkpoints for a job,
// deleting the rest. keepLast must be within [1, 100].
func (m *Manager) Cleanup(jobID string, keepLast int) (int, error) {
	if keepLast < 1 || keepLast > 100 {
		return 0, ErrInvalidKeepLast
	}
	all, err := m.List(jobID)
	if err != nil {
		return 0, err
	}
	if len(all) <= keepLast {
		return 0, nil
	}

	toDelete := all[keepLast:]
	for _, cp := range toDelete {
		if err := m.Delete(jobID, cp.CheckpointID); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

// Approve resolves an approval-gated checkpoint's pending status.
// approved=true sets ApprovalApproved (the Engine then resumes the job to
// running); approved=false sets ApprovalDenied (the Engine marks the
// gating step skipped), per the source's create_checkpoint/
// approve_checkpoint semantics.
func (m *Manager) Approve(jobID, checkpointID string, approved bool) (*Checkpoint, error) {
	cp, err := m.Get(jobID, checkpointID)
	if err != nil {
		return nil, err
	}
	if approved {
		cp.ApprovalStatus = ApprovalApproved
	} else {
		cp.ApprovalStatus = ApprovalDenied
	}

	dir, err := m.checkpointsDir(jobID)
	if err != nil {
		return nil, err
	}
	path, err := pathutil.SafeJoin(dir, checkpointID+".json")
	if err != nil {
		return nil, err
	}
	if err := atomicfile.WriteJSON(path, cp); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	return cp, nil
}
