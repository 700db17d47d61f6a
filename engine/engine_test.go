package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/forgeflow/jobengine/agent"
	"github.com/forgeflow/jobengine/checkpoint"
	"github.com/forgeflow/jobengine/compiler"
	"github.com/forgeflow/jobengine/control"
	"github.com/forgeflow/jobengine/emit"
	"github.com/forgeflow/jobengine/input"
	"github.com/forgeflow/jobengine/jobstate"
	"github.com/forgeflow/jobengine/store"
)

func echoAgent(id string) *agent.Func {
	return agent.NewFunc(agent.Contract{
		ID: id, Version: "1", Checkpoints: []string{"default"}, MaxRuntimeSec: 5, Confidence: 1,
	}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"result": id}, nil
	})
}

func failingAgent(id string, failures int) *agent.Func {
	calls := 0
	return agent.NewFunc(agent.Contract{
		ID: id, Version: "1", Checkpoints: []string{"default"}, MaxRuntimeSec: 5, Confidence: 1,
	}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		if calls <= failures {
			return nil, errors.New("transient failure")
		}
		return map[string]any{"result": id}, nil
	})
}

func newTestEngine(t *testing.T, wf map[string]*compiler.Workflow, agents ...agent.Agent) *Engine {
	t.Helper()
	reg := agent.NewRegistry()
	for _, a := range agents {
		if err := reg.Register(a); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	return New(
		compiler.New(compiler.MapLoader(wf)),
		st,
		reg,
		nil,
		checkpoint.New(t.TempDir()),
		control.New(),
		logr.Discard(),
		WithWorkers(2),
	)
}

func waitForStatus(t *testing.T, e *Engine, jobID string, want jobstate.JobStatus, timeout time.Duration) jobstate.JobMetadata {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		meta, err := e.GetStatus(jobID)
		if err == nil && meta.Status == want {
			return *meta
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status did not reach %s within %s", want, timeout)
	return jobstate.JobMetadata{}
}

func TestSubmitAndRunLinearWorkflow(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{
			"a": {AgentID: "a"},
			"b": {AgentID: "b", DependsOn: []string{"a"}},
		}},
	}
	e := newTestEngine(t, wf, echoAgent("a"), echoAgent("b"))
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", map[string]any{"topic": "go"}, "corr-1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, e, jobID, jobstate.JobCompleted, 2*time.Second)
}

func TestCancelPendingJobSettlesImmediately(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{"a": {AgentID: "a"}}},
	}
	e := newTestEngine(t, wf, echoAgent("a"))
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := e.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	meta, err := e.GetStatus(jobID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if meta.Status != jobstate.JobCancelled {
		t.Fatalf("expected cancelled, got %s (race with worker pickup is possible but unlikely in this test)", meta.Status)
	}
}

func TestRetrySucceedsWithinMaxRetries(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{
			"a": {AgentID: "a", MaxRetries: 2},
		}},
	}
	e := newTestEngine(t, wf, failingAgent("a", 2))
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, e, jobID, jobstate.JobCompleted, 2*time.Second)
}

func TestOptionalStepFailureDoesNotFailJob(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{
			"a": {AgentID: "a", Optional: true},
		}},
	}
	e := newTestEngine(t, wf, failingAgent("a", 99))
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, e, jobID, jobstate.JobCompleted, 2*time.Second)
}

func TestUnknownWorkflowFailsSubmit(t *testing.T) {
	e := newTestEngine(t, map[string]*compiler.Workflow{})
	defer e.Shutdown(context.Background())

	if _, err := e.Submit("ghost", nil, ""); err == nil {
		t.Fatal("expected error submitting unknown workflow")
	}
}

func TestUpdateParamsRequiresRunningOrPaused(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{"a": {AgentID: "a"}}},
	}
	e := newTestEngine(t, wf, echoAgent("a"))
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, e, jobID, jobstate.JobCompleted, 2*time.Second)

	if err := e.UpdateParams(jobID, map[string]any{"x": 1}, "corr"); err == nil {
		t.Fatal("expected error updating params on a completed job")
	}
}

func TestDeleteRequiresForceOnNonTerminalJob(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{"a": {AgentID: "a"}}},
	}
	e := newTestEngine(t, wf, echoAgent("a"))
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Racy window: try to delete immediately. If the job already completed
	// by the time Delete runs, force=false succeeds, which is also correct
	// behavior for a terminal job — so only assert the non-force failure
	// mode when we can observe the job is still non-terminal.
	meta, _ := e.GetStatus(jobID)
	if !meta.Status.Terminal() {
		if err := e.Delete(jobID, false); err == nil {
			t.Fatal("expected error deleting a non-terminal job without force")
		}
	}
	if err := e.Delete(jobID, true); err != nil {
		t.Fatalf("Delete(force) error = %v", err)
	}
}

func TestCompletenessGateFailsJobWithTrivialOutput(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{"a": {AgentID: "a"}}},
	}
	trivialAgent := agent.NewFunc(agent.Contract{
		ID: "a", Version: "1", Checkpoints: []string{"default"}, MaxRuntimeSec: 5, Confidence: 1,
	}, func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return map[string]any{"article": "TODO"}, nil
	})

	reg := agent.NewRegistry()
	if err := reg.Register(trivialAgent); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	e := New(
		compiler.New(compiler.MapLoader(wf)),
		st, reg, nil, checkpoint.New(t.TempDir()), control.New(), logr.Discard(),
		WithWorkers(2),
		WithCompletenessGate(input.NewCompletenessGate(input.GateConfig{MinTotalBytes: 1})),
	)
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	meta := waitForStatus(t, e, jobID, jobstate.JobFailed, 2*time.Second)
	if meta.ErrorMessage == "" {
		t.Fatal("expected error_message describing the gate rejection")
	}
}

func TestRetryExhaustionEmitsOneStepFailedPerAttempt(t *testing.T) {
	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{
			"a": {AgentID: "a", MaxRetries: 2},
		}},
	}
	reg := agent.NewRegistry()
	if err := reg.Register(failingAgent("a", 99)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	bufEmitter := emit.NewBufferedEmitter()
	e := New(
		compiler.New(compiler.MapLoader(wf)),
		st, reg, bufEmitter, checkpoint.New(t.TempDir()), control.New(), logr.Discard(),
		WithWorkers(2),
	)
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", nil, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, e, jobID, jobstate.JobFailed, 2*time.Second)

	failures := bufEmitter.FilteredHistory(jobID, emit.HistoryFilter{Type: emit.StepFailed})
	if len(failures) != 3 {
		t.Fatalf("expected exactly 3 StepFailed events for max_retries=2, got %d: %+v", len(failures), failures)
	}
}

func TestSubmitResolvesInputSpecIntoContext(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("some source material"), 0o644); err != nil {
		t.Fatal(err)
	}

	var sawContext map[string]any
	var mu sync.Mutex
	probeAgent := agent.NewFunc(agent.Contract{
		ID: "a", Version: "1", Checkpoints: []string{"default"}, MaxRuntimeSec: 5, Confidence: 1,
	}, func(ctx context.Context, in map[string]any) (map[string]any, error) {
		mu.Lock()
		sawContext, _ = in["_context"].(map[string]any)
		mu.Unlock()
		return map[string]any{"result": "ok"}, nil
	})

	wf := map[string]*compiler.Workflow{
		"wf1": {ID: "wf1", Steps: map[string]compiler.StepDefinition{"a": {AgentID: "a"}}},
	}
	reg := agent.NewRegistry()
	if err := reg.Register(probeAgent); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	e := New(
		compiler.New(compiler.MapLoader(wf)),
		st, reg, nil, checkpoint.New(t.TempDir()), control.New(), logr.Discard(),
		WithWorkers(2),
		WithInputResolver(input.NewResolver(dir)),
	)
	defer e.Shutdown(context.Background())

	jobID, err := e.Submit("wf1", map[string]any{"_input_spec": input.InputSpec{Path: "notes.md"}}, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, e, jobID, jobstate.JobCompleted, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if sawContext == nil {
		t.Fatal("expected resolved _context to reach the agent's input")
	}
	if sawContext["primary_content"] != "some source material" {
		t.Fatalf("primary_content = %v", sawContext["primary_content"])
	}
}
