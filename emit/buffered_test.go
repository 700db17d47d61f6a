package emit

import "testing"

func TestBufferedEmitterRecordsPerJobHistory(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: JobSubmitted, JobID: "job-1"})
	b.Emit(Event{Type: StepStarted, JobID: "job-1", StepID: "a"})
	b.Emit(Event{Type: JobSubmitted, JobID: "job-2"})

	h1 := b.History("job-1")
	if len(h1) != 2 {
		t.Fatalf("len(History(job-1)) = %d, want 2", len(h1))
	}
	h2 := b.History("job-2")
	if len(h2) != 1 {
		t.Fatalf("len(History(job-2)) = %d, want 1", len(h2))
	}
}

func TestBufferedEmitterFilteredHistory(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: StepStarted, JobID: "job-1", StepID: "a", AgentID: "writer"})
	b.Emit(Event{Type: StepCompleted, JobID: "job-1", StepID: "a", AgentID: "writer"})
	b.Emit(Event{Type: StepStarted, JobID: "job-1", StepID: "b", AgentID: "editor"})

	got := b.FilteredHistory("job-1", HistoryFilter{StepID: "a"})
	if len(got) != 2 {
		t.Fatalf("len(FilteredHistory) = %d, want 2", len(got))
	}

	got = b.FilteredHistory("job-1", HistoryFilter{Type: StepStarted, AgentID: "editor"})
	if len(got) != 1 || got[0].StepID != "b" {
		t.Fatalf("unexpected filtered result: %+v", got)
	}
}

func TestBufferedEmitterClearRemovesJob(t *testing.T) {
	b := NewBufferedEmitter()
	b.Emit(Event{Type: JobSubmitted, JobID: "job-1"})
	b.Clear("job-1")
	if got := b.History("job-1"); len(got) != 0 {
		t.Fatalf("expected empty history after Clear, got %d events", len(got))
	}
}

func TestBufferedEmitterEmitBatch(t *testing.T) {
	b := NewBufferedEmitter()
	if err := b.EmitBatch(nil, []Event{
		{Type: JobSubmitted, JobID: "job-1"},
		{Type: JobCompleted, JobID: "job-1"},
	}); err != nil {
		t.Fatalf("EmitBatch() error = %v", err)
	}
	if got := b.History("job-1"); len(got) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(got))
	}
}
