// Package pathutil provides filesystem path helpers shared by the job store,
// checkpoint manager, and hot-reload monitor.
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned by SafeJoin when the resolved path would fall
// outside root.
var ErrEscapesRoot = errors.New("path escapes root directory")

// SafeJoin joins root with the given path elements and verifies the result
// stays within root, rejecting ".." traversal in any element. An absolute
// element is not rejected: filepath.Join places it beneath root. job_id,
// checkpoint names, and config filenames all pass through here before
// touching the filesystem.
func SafeJoin(root string, elems ...string) (string, error) {
	cleanRoot := filepath.Clean(root)
	joined := append([]string{cleanRoot}, elems...)
	candidate := filepath.Join(joined...)
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(cleanRoot, candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEscapesRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, candidate)
	}
	return candidate, nil
}
