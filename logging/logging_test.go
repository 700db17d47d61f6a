package logging

import "testing"

func TestNewDefaultsToJSONInfo(t *testing.T) {
	logger, sync, err := New(Options{OutputPaths: []string{"stdout"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sync()

	logger.Info("hello", "key", "value")
	if logger.GetSink() == nil {
		t.Fatal("expected a non-nil logr sink")
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "not-a-level"}); err == nil {
		t.Fatal("expected an error for an invalid level string")
	}
}

func TestNewConsoleDevelopment(t *testing.T) {
	logger, sync, err := New(Options{Format: FormatConsole, Development: true, OutputPaths: []string{"stdout"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sync()
	logger.V(1).Info("debug-ish line")
}

func TestDiscardIsNoOp(t *testing.T) {
	logger := Discard()
	logger.Info("should not panic")
}
