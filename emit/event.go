// Package emit provides the Event Stream: job and step lifecycle events
// broadcast to subscribers in commit order per job.
package emit

import "time"

// Type is the kind of lifecycle event.
type Type string

const (
	JobSubmitted Type = "JobSubmitted"
	JobStarted   Type = "JobStarted"
	JobPaused    Type = "JobPaused"
	JobResumed   Type = "JobResumed"
	JobCompleted Type = "JobCompleted"
	JobFailed    Type = "JobFailed"
	JobCancelled Type = "JobCancelled"

	StepStarted   Type = "StepStarted"
	StepCompleted Type = "StepCompleted"
	StepFailed    Type = "StepFailed"
	StepSkipped   Type = "StepSkipped"
)

// Event is one observable transition in a job's lifecycle. Every event
// carries enough context for a subscriber to reconstruct the job timeline
// without consulting the job store.
type Event struct {
	Type          Type           `json:"event_type"`
	JobID         string         `json:"job_id"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	StepID        string         `json:"step_id,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}
