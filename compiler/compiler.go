package compiler

import (
	"container/heap"
	"fmt"
	"sort"
)

// Loader resolves a workflow id to its declarative definition. Concrete
// implementations load from YAML files (see FileLoader in loader.go); tests
// typically use the map-backed MapLoader.
type Loader interface {
	Load(workflowID string) (*Workflow, error)
}

// Compiler compiles Workflow definitions into ExecutionPlans. It holds no
// mutable state beyond its Loader, so Compile is safe to call concurrently
// and is pure with respect to a fixed Loader: identical inputs always
// produce byte-identical plans.
type Compiler struct {
	loader Loader
}

// New builds a Compiler backed by the given Loader.
func New(loader Loader) *Compiler {
	return &Compiler{loader: loader}
}

// Compile resolves workflowID via the Loader and produces a topologically
// sorted, wave-grouped ExecutionPlan, or a *CompilationError wrapping one
// of ErrWorkflowNotFound, ErrCircularDependency, ErrUnknownDependency, or
// ErrInvalidStep.
func (c *Compiler) Compile(workflowID string) (*ExecutionPlan, error) {
	wf, err := c.loader.Load(workflowID)
	if err != nil {
		return nil, &CompilationError{WorkflowID: workflowID, Err: fmt.Errorf("%w: %v", ErrWorkflowNotFound, err)}
	}
	if wf == nil {
		return nil, &CompilationError{WorkflowID: workflowID, Err: ErrWorkflowNotFound}
	}

	if err := validateSteps(wf); err != nil {
		return nil, err
	}

	order, err := topologicalSort(wf)
	if err != nil {
		return nil, err
	}

	waves := groupWaves(wf, order)

	steps := make([]ExecutionStep, 0, len(order))
	waveOf := make(map[string]int, len(order))
	for i, wave := range waves {
		for _, id := range wave {
			waveOf[id] = i
		}
	}
	for _, id := range order {
		def := wf.Steps[id]
		steps = append(steps, ExecutionStep{
			StepID:           id,
			AgentID:          def.AgentID,
			Dependencies:     append([]string(nil), def.DependsOn...),
			Condition:        def.Condition,
			TimeoutSec:       resolveTimeout(def, wf.Config),
			MaxRetries:       resolveRetries(def, wf.Config),
			Optional:         def.Optional,
			ParallelTag:      def.ParallelTag,
			ApprovalRequired: def.ApprovalRequired,
		})
	}

	groups := make([][]string, len(waves))
	for i, wave := range waves {
		sorted := append([]string(nil), wave...)
		sort.Strings(sorted)
		groups[i] = sorted
	}

	return &ExecutionPlan{
		WorkflowID:     workflowID,
		Steps:          steps,
		ParallelGroups: groups,
		Config:         wf.Config,
	}, nil
}

func resolveTimeout(def StepDefinition, cfg WorkflowConfig) int {
	if def.TimeoutSec > 0 {
		return def.TimeoutSec
	}
	if cfg.DefaultTimeout > 0 {
		return cfg.DefaultTimeout
	}
	return 300
}

func resolveRetries(def StepDefinition, cfg WorkflowConfig) int {
	if def.MaxRetries > 0 {
		return def.MaxRetries
	}
	return cfg.MaxRetries
}

func validateSteps(wf *Workflow) error {
	for id, def := range wf.Steps {
		if def.AgentID == "" {
			return &CompilationError{WorkflowID: wf.ID, StepID: id, Err: ErrInvalidStep}
		}
		if def.TimeoutSec < 0 || def.MaxRetries < 0 {
			return &CompilationError{WorkflowID: wf.ID, StepID: id, Err: ErrInvalidStep}
		}
		for _, dep := range def.DependsOn {
			if _, ok := wf.Steps[dep]; !ok {
				return &CompilationError{WorkflowID: wf.ID, StepID: id, Err: fmt.Errorf("%w: %q depends on undefined step %q", ErrUnknownDependency, id, dep)}
			}
		}
	}
	return nil
}

// stepHeap is a min-heap of step ids ordered lexically, used to break ties
// among steps whose dependencies are simultaneously satisfied during Kahn's
// algorithm. This mirrors the teacher engine's discipline of always
// resolving concurrent-candidate ordering through a deterministic key
// rather than map iteration order.
type stepHeap []string

func (h stepHeap) Len() int            { return len(h) }
func (h stepHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h stepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *stepHeap) Push(x interface{}) { *h = append(*h, x.(string)) }
func (h *stepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topologicalSort runs Kahn's algorithm over wf's step graph, breaking
// ties among simultaneously-ready steps by lexical step id so repeated
// compilations of the same workflow always produce the same order.
func topologicalSort(wf *Workflow) ([]string, error) {
	indegree := make(map[string]int, len(wf.Steps))
	dependents := make(map[string][]string, len(wf.Steps))
	for id := range wf.Steps {
		indegree[id] = 0
	}
	for id, def := range wf.Steps {
		indegree[id] = len(def.DependsOn)
		for _, dep := range def.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := &stepHeap{}
	for id, deg := range indegree {
		if deg == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(wf.Steps))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) != len(wf.Steps) {
		missing := make([]string, 0)
		for id, deg := range indegree {
			if deg > 0 {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, &CompilationError{WorkflowID: wf.ID, Err: fmt.Errorf("%w: involving %v", ErrCircularDependency, missing)}
	}

	return order, nil
}

// groupWaves partitions order into parallel groups: wave i is the set of
// steps whose dependencies are entirely contained in waves 0..i-1.
func groupWaves(wf *Workflow, order []string) [][]string {
	waveOf := make(map[string]int, len(order))
	var waves [][]string

	for _, id := range order {
		maxDepWave := -1
		for _, dep := range wf.Steps[id].DependsOn {
			if w, ok := waveOf[dep]; ok && w > maxDepWave {
				maxDepWave = w
			}
		}
		wave := maxDepWave + 1
		waveOf[id] = wave
		for len(waves) <= wave {
			waves = append(waves, nil)
		}
		waves[wave] = append(waves[wave], id)
	}

	return waves
}
