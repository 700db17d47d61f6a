// Package agent defines the capability interface the engine uses to invoke
// agents, the MCP Contract agents self-describe with, and an explicit
// registry keyed by agent id — replacing the source's directory-walking
// dynamic discovery (SPEC_FULL.md §9) with register-by-id construction.
package agent

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SideEffect enumerates the kinds of external effect an agent may perform,
// mirroring the source's SideEffect enum (mcp/contracts.py) exactly.
type SideEffect string

const (
	SideEffectNone    SideEffect = "none"
	SideEffectRead    SideEffect = "read"
	SideEffectWrite   SideEffect = "write"
	SideEffectNetwork SideEffect = "network"
	SideEffectFS      SideEffect = "fs"
)

// Contract is an agent's machine-readable self-description: its schema,
// side effects, and checkpoint names. The engine validates dispatch inputs
// against Inputs before calling Execute.
type Contract struct {
	ID            string                 `validate:"required" json:"id"`
	Version       string                 `validate:"required" json:"version"`
	Inputs        map[string]SchemaField `json:"inputs"`
	Outputs       map[string]SchemaField `json:"outputs"`
	Checkpoints   []string               `validate:"required,min=1" json:"checkpoints"`
	MaxRuntimeSec int                    `validate:"required,gt=0" json:"max_runtime_s"`
	Confidence    float64                `validate:"gte=0,lte=1" json:"confidence"`
	SideEffects   []SideEffect           `json:"side_effects"`
	Description   string                 `json:"description,omitempty"`
	MutableParams []string               `json:"mutable_params,omitempty"`
}

// SchemaField describes one field of an agent's input or output schema.
type SchemaField struct {
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

var validate = validator.New()

// Validate checks the contract's own shape (distinct from validating a
// particular input map against Inputs — see ValidateInputs).
func (c *Contract) Validate() error {
	return validate.Struct(c)
}

// ValidateInputs checks input against the fields the contract marks
// required, returning an error naming every missing key. This is the
// check that produces InvalidInputs at dispatch time (SPEC_FULL.md §4.3/§7).
func (c *Contract) ValidateInputs(input map[string]any) error {
	var missing []string
	for key, field := range c.Inputs {
		if !field.Required {
			continue
		}
		if _, ok := input[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required keys %v", ErrInvalidInputs, missing)
	}
	return nil
}

// Agent is the uniform capability interface the engine dispatches through.
// Execute is synchronous from the engine's point of view; an agent may use
// its own internal concurrency. Checkpoint is optional: agents that never
// yield mid-work can embed NoopCheckpointer.
type Agent interface {
	Contract() Contract
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Checkpointer is an optional capability an Agent may implement to name its
// mid-work yield points. The engine does not call Checkpoint or look for
// this interface; during a long-running Execute call it polls the control
// plane itself and cancels the call's context on pause or cancel.
type Checkpointer interface {
	Checkpoint(ctx context.Context, name string) error
}

// NoopCheckpointer is embeddable by agents with no internal yield points.
type NoopCheckpointer struct{}

func (NoopCheckpointer) Checkpoint(context.Context, string) error { return nil }

// Func adapts a plain function into an Agent with a minimal contract. It is
// convenient for tests and for wrapping simple stateless agents.
type Func struct {
	contract Contract
	fn       func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewFunc builds a Func-backed Agent.
func NewFunc(contract Contract, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) *Func {
	return &Func{contract: contract, fn: fn}
}

func (f *Func) Contract() Contract { return f.contract }

func (f *Func) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f.fn(ctx, input)
}
