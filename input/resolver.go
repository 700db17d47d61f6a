package input

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgeflow/jobengine/internal/pathutil"
)

// ContextSet is the normalized result of resolving any supported input
// mode: a single block of primary content, the list of sources it came
// from, and mode-specific metadata. The engine merges this into job
// inputs under the "_context" key after the workflow compiles and before
// the job is persisted (spec.md §4.8).
type ContextSet struct {
	PrimaryContent string
	Sources        []string
	Metadata       map[string]any
}

// InputSpec is the union of input shapes Submit accepts, mirroring the
// original resolver's topic/path/list/bucket modes. Exactly one of these
// should be populated; Resolve checks them in bucket, list, path, topic
// order, matching the original's precedence.
type InputSpec struct {
	// Topic is a free-form string treated as the job's subject when no
	// file-based input is given.
	Topic string
	// Path is a single file or directory, resolved relative to the
	// Resolver's root.
	Path string
	// Paths is an explicit list of files, each resolved relative to the
	// Resolver's root.
	Paths []string
	// Buckets groups paths under caller-defined category names (the
	// original's uploaded-files mode: {"kb": [...], "docs": [...]}).
	Buckets map[string][]string
}

// Resolver turns an InputSpec into a ContextSet. All file access is
// confined to root via pathutil.SafeJoin.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver that reads files only from within root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Resolve normalizes spec into a ContextSet (spec.md §4.8).
func (r *Resolver) Resolve(spec InputSpec) (ContextSet, error) {
	switch {
	case len(spec.Buckets) > 0:
		return r.resolveBuckets(spec.Buckets)
	case len(spec.Paths) > 0:
		return r.resolveList(spec.Paths)
	case spec.Path != "":
		return r.resolvePath(spec.Path)
	case spec.Topic != "":
		return r.resolveTopic(spec.Topic), nil
	default:
		return ContextSet{}, ErrUnresolvableSpec
	}
}

func (r *Resolver) resolveTopic(topic string) ContextSet {
	return ContextSet{
		PrimaryContent: topic,
		Sources:        []string{"user_topic"},
		Metadata: map[string]any{
			"input_mode": "topic",
			"topic":      topic,
		},
	}
}

func (r *Resolver) resolvePath(path string) (ContextSet, error) {
	full, err := pathutil.SafeJoin(r.root, path)
	if err != nil {
		return ContextSet{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return ContextSet{}, fmt.Errorf("%w: %s: %v", ErrNoReadableSources, path, err)
	}
	if info.IsDir() {
		return r.resolveFolder(path, full)
	}
	return r.resolveFile(path, full)
}

func (r *Resolver) resolveFile(rel, full string) (ContextSet, error) {
	content, err := os.ReadFile(full)
	if err != nil {
		return ContextSet{}, fmt.Errorf("%w: %s: %v", ErrNoReadableSources, rel, err)
	}
	info, _ := os.Stat(full)
	var size int64
	if info != nil {
		size = info.Size()
	}
	return ContextSet{
		PrimaryContent: string(content),
		Sources:        []string{rel},
		Metadata: map[string]any{
			"input_mode": "file",
			"filename":   filepath.Base(full),
			"filepath":   rel,
			"size_bytes": size,
		},
	}, nil
}

func (r *Resolver) resolveFolder(relRoot, fullRoot string) (ContextSet, error) {
	var matches []string
	err := filepath.WalkDir(fullRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return ContextSet{}, fmt.Errorf("walk %s: %w", relRoot, err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return ContextSet{}, fmt.Errorf("%w: no .md files in %s", ErrNoReadableSources, relRoot)
	}

	var blocks []string
	var sources []string
	var totalBytes int64
	for _, full := range matches {
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(r.root, full)
		blocks = append(blocks, fmt.Sprintf("# File: %s\n\n%s", filepath.Base(full), string(content)))
		sources = append(sources, rel)
		totalBytes += int64(len(content))
	}
	if len(blocks) == 0 {
		return ContextSet{}, fmt.Errorf("%w: failed to read any files from %s", ErrNoReadableSources, relRoot)
	}

	return ContextSet{
		PrimaryContent: strings.Join(blocks, "\n\n---\n\n"),
		Sources:        sources,
		Metadata: map[string]any{
			"input_mode":       "folder",
			"folder_path":      relRoot,
			"file_count":       len(sources),
			"total_size_bytes": totalBytes,
		},
	}, nil
}

func (r *Resolver) resolveList(paths []string) (ContextSet, error) {
	var blocks []string
	var sources []string
	for _, p := range paths {
		full, err := pathutil.SafeJoin(r.root, p)
		if err != nil {
			continue
		}
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("# File: %s\n\n%s", filepath.Base(full), string(content)))
		sources = append(sources, p)
	}
	if len(blocks) == 0 {
		return ContextSet{}, fmt.Errorf("%w: from list of %d paths", ErrNoReadableSources, len(paths))
	}
	return ContextSet{
		PrimaryContent: strings.Join(blocks, "\n\n---\n\n"),
		Sources:        sources,
		Metadata: map[string]any{
			"input_mode":      "list",
			"file_count":      len(sources),
			"requested_count": len(paths),
		},
	}, nil
}

func (r *Resolver) resolveBuckets(buckets map[string][]string) (ContextSet, error) {
	categories := make([]string, 0, len(buckets))
	for c := range buckets {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var blocks []string
	var sources []string
	var found []string
	for _, category := range categories {
		paths := buckets[category]
		if len(paths) == 0 {
			continue
		}
		found = append(found, category)
		for _, p := range paths {
			full, err := pathutil.SafeJoin(r.root, p)
			if err != nil {
				continue
			}
			content, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			blocks = append(blocks, fmt.Sprintf("# [%s] %s\n\n%s", strings.ToUpper(category), filepath.Base(full), string(content)))
			sources = append(sources, p)
		}
	}
	if len(blocks) == 0 {
		return ContextSet{}, fmt.Errorf("%w: no uploaded files could be read", ErrNoReadableSources)
	}
	return ContextSet{
		PrimaryContent: strings.Join(blocks, "\n\n---\n\n"),
		Sources:        sources,
		Metadata: map[string]any{
			"input_mode": "uploaded_files",
			"file_count": len(sources),
			"categories": found,
		},
	}, nil
}
