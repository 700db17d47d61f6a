// Package compiler turns a declarative Workflow into a validated
// ExecutionPlan: a topologically sorted step list with deterministic
// lexical tie-breaking and wave-based parallel groups.
package compiler

// ConditionType is the kind of guard attached to a step.
type ConditionType string

const (
	ConditionIf       ConditionType = "if"
	ConditionUnless   ConditionType = "unless"
	ConditionRequires ConditionType = "requires"
)

// Condition gates whether a step runs, evaluated against the job's
// accumulated outputs at dispatch time.
type Condition struct {
	Type ConditionType `yaml:"type" json:"type"`
	Key  string        `yaml:"key,omitempty" json:"key,omitempty"`
	Keys []string      `yaml:"keys,omitempty" json:"keys,omitempty"`
}

// Evaluate reports whether the condition is satisfied given the job's
// current accumulated outputs. A nil Condition always evaluates true.
func (c *Condition) Evaluate(outputs map[string]any) bool {
	if c == nil {
		return true
	}
	switch c.Type {
	case ConditionIf:
		v, ok := outputs[c.Key]
		return ok && truthy(v)
	case ConditionUnless:
		v, ok := outputs[c.Key]
		return !(ok && truthy(v))
	case ConditionRequires:
		for _, k := range c.Keys {
			if _, ok := outputs[k]; !ok {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}

// StepDefinition is one step as declared in a Workflow, prior to compilation.
type StepDefinition struct {
	AgentID          string     `yaml:"agent" json:"agent"`
	DependsOn        []string   `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	TimeoutSec       int        `yaml:"timeout" json:"timeout"`
	MaxRetries       int        `yaml:"retries" json:"retries"`
	Optional         bool       `yaml:"optional,omitempty" json:"optional,omitempty"`
	Condition        *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
	ParallelTag      string     `yaml:"parallel_group,omitempty" json:"parallel_group,omitempty"`
	ApprovalRequired bool       `yaml:"approval_required,omitempty" json:"approval_required,omitempty"`
}

// WorkflowConfig holds workflow-level execution options.
type WorkflowConfig struct {
	Deterministic   bool `yaml:"deterministic,omitempty" json:"deterministic,omitempty"`
	MaxRetries      int  `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	ContinueOnError bool `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	DefaultTimeout  int  `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`
}

// Workflow is the declarative, user-authored description of a DAG of steps.
// StepID is the map key; StepDefinition.AgentID need not equal StepID,
// though in practice the two are usually the same string.
type Workflow struct {
	ID          string                    `yaml:"-" json:"id"`
	Description string                    `yaml:"description,omitempty" json:"description,omitempty"`
	Config      WorkflowConfig            `yaml:"config,omitempty" json:"config,omitempty"`
	Steps       map[string]StepDefinition `yaml:"steps" json:"steps"`
}

// ExecutionStep is one compiled step: a StepDefinition plus its resolved
// step id and dependency set.
type ExecutionStep struct {
	StepID           string     `json:"step_id"`
	AgentID          string     `json:"agent_id"`
	Dependencies     []string   `json:"dependencies"`
	Condition        *Condition `json:"condition,omitempty"`
	TimeoutSec       int        `json:"timeout_seconds"`
	MaxRetries       int        `json:"max_retries"`
	Optional         bool       `json:"optional"`
	ParallelTag      string     `json:"parallel_group,omitempty"`
	ApprovalRequired bool       `json:"approval_required,omitempty"`
}

// ExecutionPlan is the compiled, validated, deterministic form of a
// Workflow: a topologically sorted step list plus the wave-based parallel
// grouping of that same step set.
type ExecutionPlan struct {
	WorkflowID     string            `json:"workflow_id"`
	Steps          []ExecutionStep   `json:"steps"`
	ParallelGroups [][]string        `json:"parallel_groups"`
	Config         WorkflowConfig    `json:"config"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// StepByID returns the compiled step with the given id, or false if absent.
func (p *ExecutionPlan) StepByID(id string) (ExecutionStep, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return ExecutionStep{}, false
}
