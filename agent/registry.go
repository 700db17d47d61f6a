package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves agents by id. It is explicitly constructed and passed
// to the engine's root struct (SPEC_FULL.md §9) rather than reached
// through a package-level singleton; once populated at startup it is
// read-mostly and safe for concurrent use by every worker without further
// locking on the read path.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent keyed by its contract id. It fails if the
// contract is malformed or an agent is already registered under that id.
func (r *Registry) Register(a Agent) error {
	c := a.Contract()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidContract, c.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[c.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.ID)
	}
	r.agents[c.ID] = a
	return nil
}

// Get resolves an agent by id.
func (r *Registry) Get(agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return a, nil
}

// List returns every registered agent's contract, sorted by id.
func (r *Registry) List() []Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contract, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Contract())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns contracts matching an optional side-effect filter; pass
// "" to match any side effect.
func (r *Registry) Search(sideEffect SideEffect) []Contract {
	all := r.List()
	if sideEffect == "" {
		return all
	}
	out := make([]Contract, 0, len(all))
	for _, c := range all {
		for _, se := range c.SideEffects {
			if se == sideEffect {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
