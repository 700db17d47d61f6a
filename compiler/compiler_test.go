package compiler

import (
	"errors"
	"reflect"
	"testing"
)

func mustCompile(t *testing.T, wf *Workflow) *ExecutionPlan {
	t.Helper()
	c := New(MapLoader{wf.ID: wf})
	plan, err := c.Compile(wf.ID)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return plan
}

func TestCompileLinearWorkflow(t *testing.T) {
	wf := &Workflow{
		ID: "linear",
		Steps: map[string]StepDefinition{
			"a": {AgentID: "agent-a", TimeoutSec: 10},
			"b": {AgentID: "agent-b", DependsOn: []string{"a"}, TimeoutSec: 10},
			"c": {AgentID: "agent-c", DependsOn: []string{"b"}, TimeoutSec: 10},
		},
	}
	plan := mustCompile(t, wf)

	if len(plan.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(plan.Steps))
	}
	order := []string{plan.Steps[0].StepID, plan.Steps[1].StepID, plan.Steps[2].StepID}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("expected order a,b,c; got %v", order)
	}
	wantGroups := [][]string{{"a"}, {"b"}, {"c"}}
	if !reflect.DeepEqual(plan.ParallelGroups, wantGroups) {
		t.Fatalf("expected groups %v, got %v", wantGroups, plan.ParallelGroups)
	}
}

func TestCompileParallelGroup(t *testing.T) {
	// a has no deps; b and c depend on a; d depends on b and c.
	wf := &Workflow{
		ID: "diamond",
		Steps: map[string]StepDefinition{
			"a": {AgentID: "agent-a", TimeoutSec: 10},
			"b": {AgentID: "agent-b", DependsOn: []string{"a"}, TimeoutSec: 10},
			"c": {AgentID: "agent-c", DependsOn: []string{"a"}, TimeoutSec: 10},
			"d": {AgentID: "agent-d", DependsOn: []string{"b", "c"}, TimeoutSec: 10},
		},
	}
	plan := mustCompile(t, wf)

	wantGroups := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(plan.ParallelGroups, wantGroups) {
		t.Fatalf("expected groups %v, got %v", wantGroups, plan.ParallelGroups)
	}
	if plan.Steps[0].StepID != "a" {
		t.Fatalf("expected plan to start with a, got %s", plan.Steps[0].StepID)
	}
}

func TestCompileCycleFails(t *testing.T) {
	wf := &Workflow{
		ID: "cycle",
		Steps: map[string]StepDefinition{
			"a": {AgentID: "agent-a", DependsOn: []string{"b"}, TimeoutSec: 10},
			"b": {AgentID: "agent-b", DependsOn: []string{"a"}, TimeoutSec: 10},
		},
	}
	c := New(MapLoader{wf.ID: wf})
	_, err := c.Compile(wf.ID)
	if err == nil {
		t.Fatal("expected error for cyclic workflow")
	}
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("expected ErrCircularDependency, got %v", err)
	}
}

func TestCompileUnknownWorkflow(t *testing.T) {
	c := New(MapLoader{})
	_, err := c.Compile("missing")
	if !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestCompileUnknownDependency(t *testing.T) {
	wf := &Workflow{
		ID: "bad-dep",
		Steps: map[string]StepDefinition{
			"a": {AgentID: "agent-a", DependsOn: []string{"ghost"}, TimeoutSec: 10},
		},
	}
	c := New(MapLoader{wf.ID: wf})
	_, err := c.Compile(wf.ID)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestCompileDeterministic(t *testing.T) {
	wf := &Workflow{
		ID: "det",
		Steps: map[string]StepDefinition{
			"z": {AgentID: "agent-z", TimeoutSec: 10},
			"y": {AgentID: "agent-y", TimeoutSec: 10},
			"x": {AgentID: "agent-x", TimeoutSec: 10},
		},
	}
	c := New(MapLoader{wf.ID: wf})
	p1, err := c.Compile(wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Compile(wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p1, p2) {
		t.Fatalf("expected byte-identical plans across compilations")
	}
	// all three steps have no dependencies, so lexical tie-break applies
	order := []string{p1.Steps[0].StepID, p1.Steps[1].StepID, p1.Steps[2].StepID}
	if !reflect.DeepEqual(order, []string{"x", "y", "z"}) {
		t.Fatalf("expected lexical order x,y,z; got %v", order)
	}
}

func TestConditionEvaluate(t *testing.T) {
	outputs := map[string]any{"flag": true, "present": "v"}

	ifCond := &Condition{Type: ConditionIf, Key: "flag"}
	if !ifCond.Evaluate(outputs) {
		t.Error("expected if-condition true")
	}

	unlessCond := &Condition{Type: ConditionUnless, Key: "flag"}
	if unlessCond.Evaluate(outputs) {
		t.Error("expected unless-condition false")
	}

	requiresCond := &Condition{Type: ConditionRequires, Keys: []string{"present", "missing"}}
	if requiresCond.Evaluate(outputs) {
		t.Error("expected requires-condition false when a key is missing")
	}
}

func TestParseWorkflowsBothForms(t *testing.T) {
	dictDoc := []byte(`
workflows:
  greet:
    description: test
    steps:
      a:
        agent: agent-a
        timeout: 5
`)
	listDoc := []byte(`
workflows:
  - id: greet
    description: test
    steps:
      a:
        agent: agent-a
        timeout: 5
`)

	dictWfs, err := ParseWorkflows(dictDoc)
	if err != nil {
		t.Fatalf("dict form: %v", err)
	}
	listWfs, err := ParseWorkflows(listDoc)
	if err != nil {
		t.Fatalf("list form: %v", err)
	}
	if dictWfs["greet"].Steps["a"].AgentID != "agent-a" {
		t.Fatal("dict form did not parse step correctly")
	}
	if listWfs["greet"].Steps["a"].AgentID != "agent-a" {
		t.Fatal("list form did not parse step correctly")
	}
}
