package checkpoint

import (
	"errors"
	"testing"
)

func TestSaveGetList(t *testing.T) {
	m := New(t.TempDir())

	cp1, err := m.Save("job-1", "after_a", map[string]any{"outputs": map[string]any{"a": 1}}, false)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	cp2, err := m.Save("job-1", "after_b", map[string]any{"outputs": map[string]any{"b": 2}}, false)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := m.Get("job-1", cp1.CheckpointID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StepName != "after_a" {
		t.Fatalf("unexpected step name: %s", got.StepName)
	}

	list, err := m.List("job-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(list))
	}
	if list[0].CheckpointID != cp2.CheckpointID {
		t.Fatalf("expected newest checkpoint first")
	}
}

func TestApprovalGate(t *testing.T) {
	m := New(t.TempDir())
	cp, err := m.Save("job-2", "gate", map[string]any{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if cp.ApprovalStatus != ApprovalPending {
		t.Fatalf("expected pending approval, got %s", cp.ApprovalStatus)
	}

	approved, err := m.Approve("job-2", cp.CheckpointID, true)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if approved.ApprovalStatus != ApprovalApproved {
		t.Fatalf("expected approved, got %s", approved.ApprovalStatus)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m := New(t.TempDir())
	snapshot := map[string]any{"outputs": map[string]any{"x": "y"}}
	cp, err := m.Save("job-3", "mid", snapshot, false)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := m.Restore("job-3", cp.CheckpointID)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored["outputs"].(map[string]any)["x"] != "y" {
		t.Fatalf("restored snapshot does not match original")
	}
}

func TestCleanupRetainsKeepLast(t *testing.T) {
	m := New(t.TempDir())
	for i := 0; i < 5; i++ {
		if _, err := m.Save("job-4", "step", map[string]any{"i": i}, false); err != nil {
			t.Fatal(err)
		}
	}
	deleted, err := m.Cleanup("job-4", 2)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
	remaining, err := m.List("job-4")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining checkpoints, got %d", len(remaining))
	}
}

func TestCleanupInvalidKeepLast(t *testing.T) {
	m := New(t.TempDir())
	if _, err := m.Cleanup("job-5", 0); !errors.Is(err, ErrInvalidKeepLast) {
		t.Fatalf("expected ErrInvalidKeepLast, got %v", err)
	}
	if _, err := m.Cleanup("job-5", 101); !errors.Is(err, ErrInvalidKeepLast) {
		t.Fatalf("expected ErrInvalidKeepLast, got %v", err)
	}
}

func TestGetMissingCheckpoint(t *testing.T) {
	m := New(t.TempDir())
	_, err := m.Get("job-6", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
