package input

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveTopic(t *testing.T) {
	r := NewResolver(t.TempDir())
	cs, err := r.Resolve(InputSpec{Topic: "distributed systems"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cs.PrimaryContent != "distributed systems" {
		t.Fatalf("PrimaryContent = %q", cs.PrimaryContent)
	}
	if cs.Metadata["input_mode"] != "topic" {
		t.Fatalf("input_mode = %v", cs.Metadata["input_mode"])
	}
}

func TestResolveSingleFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(dir)
	cs, err := r.Resolve(InputSpec{Path: "notes.md"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cs.PrimaryContent != "hello world" {
		t.Fatalf("PrimaryContent = %q", cs.PrimaryContent)
	}
	if len(cs.Sources) != 1 || cs.Sources[0] != "notes.md" {
		t.Fatalf("Sources = %v", cs.Sources)
	}
}

func TestResolveFolderCombinesMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.md"), []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.md"), []byte("B"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(dir)
	cs, err := r.Resolve(InputSpec{Path: "."})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(cs.Sources) != 2 {
		t.Fatalf("Sources = %v, want 2 files", cs.Sources)
	}
	if cs.Metadata["file_count"] != 2 {
		t.Fatalf("file_count = %v", cs.Metadata["file_count"])
	}
}

func TestResolveListSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "real.md"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(dir)
	cs, err := r.Resolve(InputSpec{Paths: []string{"real.md", "missing.md"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(cs.Sources) != 1 {
		t.Fatalf("Sources = %v, want 1", cs.Sources)
	}
	if cs.Metadata["requested_count"] != 2 {
		t.Fatalf("requested_count = %v", cs.Metadata["requested_count"])
	}
}

func TestResolveListAllMissingFails(t *testing.T) {
	r := NewResolver(t.TempDir())
	if _, err := r.Resolve(InputSpec{Paths: []string{"gone.md"}}); err == nil {
		t.Fatal("expected error when no files in list are readable")
	}
}

func TestResolveBuckets(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "kb"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "kb", "doc.md"), []byte("kb content"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(dir)
	cs, err := r.Resolve(InputSpec{Buckets: map[string][]string{
		"kb":   {"kb/doc.md"},
		"docs": {},
	}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(cs.Sources) != 1 {
		t.Fatalf("Sources = %v", cs.Sources)
	}
	cats, _ := cs.Metadata["categories"].([]string)
	if len(cats) != 1 || cats[0] != "kb" {
		t.Fatalf("categories = %v, want [kb] (empty docs bucket should be skipped)", cats)
	}
}

func TestResolveEscapingPathRejected(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir)
	if _, err := r.Resolve(InputSpec{Path: "../../etc/passwd"}); err == nil {
		t.Fatal("expected error resolving a path that escapes the root")
	}
}

func TestResolveUnrecognizedSpecFails(t *testing.T) {
	r := NewResolver(t.TempDir())
	if _, err := r.Resolve(InputSpec{}); err == nil {
		t.Fatal("expected error resolving an empty spec")
	}
}
