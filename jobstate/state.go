// Package jobstate defines the canonical, JSON-serializable state shapes
// persisted by the job store and checkpoint manager: job status, step
// status, job metadata, and the full job state document written to
// state.json.
package jobstate

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobArchived  JobStatus = "archived"
)

// jobTransitions enumerates the legal JobStatus state machine. Any
// transition not listed here is rejected by IsValidTransition.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobRunning, JobCancelled},
	JobRunning:   {JobPaused, JobCompleted, JobFailed, JobCancelled},
	JobPaused:    {JobRunning, JobCancelled},
	JobCompleted: {JobArchived},
	JobFailed:    {JobArchived},
	JobCancelled: {JobArchived},
	JobArchived:  {},
}

// IsValidTransition reports whether moving from one JobStatus to another is
// permitted by the job lifecycle state machine.
func IsValidTransition(from, to JobStatus) bool {
	if from == to {
		return false
	}
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether status admits no further transitions other than
// archival.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single execution step within a job.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRetrying  StepStatus = "retrying"
)

// ParamUpdateAudit records a single update_params call against a running
// job, for JobMetadata.AuditLog.
type ParamUpdateAudit struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	MergedKeys    []string  `json:"merged_keys"`
}

// JobMetadata is the administrative record tracked alongside a job's
// execution state: identity, workflow linkage, timestamps, and outcome.
type JobMetadata struct {
	JobID         string             `json:"job_id"`
	WorkflowID    string             `json:"workflow_id"`
	Status        JobStatus          `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	ArchivedAt    *time.Time         `json:"archived_at,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	AuditLog      []ParamUpdateAudit `json:"audit_log,omitempty"`
}

// StepRecord is the per-step bookkeeping entry inside JobState: which step,
// its current status, attempt count, and its output once completed.
type StepRecord struct {
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Attempt     int            `json:"attempt"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}

// JobState is the full, canonical document written to
// <root>/<job_id>/state.json. It is the single source of truth for resuming
// or inspecting a job; nothing about a job's progress lives only in memory.
type JobState struct {
	Metadata    JobMetadata           `json:"metadata"`
	Inputs      map[string]any        `json:"inputs"`
	Params      map[string]any        `json:"params"`
	Steps       map[string]StepRecord `json:"steps"`
	StepOrder   []string              `json:"step_order"`
	CurrentStep int                   `json:"current_step"`
	Outputs     map[string]any        `json:"outputs,omitempty"`
}

// Clone returns a deep-enough copy of s suitable for handing to a worker
// goroutine without aliasing the caller's maps.
func (s JobState) Clone() JobState {
	out := s
	out.Inputs = cloneMap(s.Inputs)
	out.Params = cloneMap(s.Params)
	out.Outputs = cloneMap(s.Outputs)
	out.StepOrder = append([]string(nil), s.StepOrder...)
	out.Steps = make(map[string]StepRecord, len(s.Steps))
	for k, v := range s.Steps {
		v.Output = cloneMap(v.Output)
		out.Steps[k] = v
	}
	if s.Metadata.AuditLog != nil {
		out.Metadata.AuditLog = append([]ParamUpdateAudit(nil), s.Metadata.AuditLog...)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
