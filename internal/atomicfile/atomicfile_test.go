package atomicfile

import (
	"path/filepath"
	"testing"
)

func TestWriteBytesLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := WriteBytes(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", entries)
	}
}

func TestWriteAndReadJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	type doc struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	want := doc{Name: "job-1", N: 42}
	if err := WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var got doc
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestReadJSONCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.json")
	if err := WriteBytes(path, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := ReadJSON(path, &out); err == nil {
		t.Fatal("expected error reading corrupt JSON")
	}
}
