// Package store implements the Job Store: a durable, file-backed
// per-job directory tree with atomic state writes, archival, and output
// artifact storage.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgeflow/jobengine/internal/atomicfile"
	"github.com/forgeflow/jobengine/internal/pathutil"
	"github.com/forgeflow/jobengine/jobstate"
)

// ErrNotFound indicates load/delete/archive was called against a job id
// that has no directory in the store (active or archived).
var ErrNotFound = errors.New("job not found")

// ErrNotTerminal indicates archive was called against a job whose status
// is not yet terminal.
var ErrNotTerminal = errors.New("job is not in a terminal state")

const (
	stateFileName  = "state.json"
	outputsDirName = "outputs"
	logsDirName    = "logs"
	checkpointsDir = "checkpoints"
	archiveDirName = "archive"
)

// Store is a file-backed Job Store rooted at a single directory:
//
//	<root>/<job_id>/{state.json, outputs/*, logs/*, checkpoints/*}
//	<root>/archive/<job_id>/...   (identical structure)
//
// Every write to state.json goes through a temp-file-then-rename so the
// file is always either the old or the new complete version, never a
// partial write (grounded on the atomic-save pattern used by the example
// pack's file-backed key/value store).
type Store struct {
	root string

	// jobLocks serializes writes to the same job_id directory; the engine
	// already routes at most one worker per job, but archive/delete/stats
	// may run from other goroutines (control API, cleanup timers).
	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

// New returns a Store rooted at root, creating root and its archive
// subdirectory if they do not exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, archiveDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Store{root: root, jobLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.jobLocks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.jobLocks[jobID] = l
	}
	return l
}

func (s *Store) jobDir(jobID string, archived bool) (string, error) {
	if archived {
		return pathutil.SafeJoin(s.root, archiveDirName, jobID)
	}
	return pathutil.SafeJoin(s.root, jobID)
}

// Save writes state to <root>/<job_id>/state.json atomically, bumping
// UpdatedAt, and ensures the job's outputs/logs/checkpoints subdirectories
// exist.
func (s *Store) Save(state jobstate.JobState) error {
	lock := s.lockFor(state.Metadata.JobID)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.jobDir(state.Metadata.JobID, false)
	if err != nil {
		return err
	}
	for _, sub := range []string{outputsDirName, logsDirName, checkpointsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	state.Metadata.UpdatedAt = time.Now().UTC()
	return atomicfile.WriteJSON(filepath.Join(dir, stateFileName), state)
}

// Load reads a job's state.json. If includeArchive is true and the job is
// not found in the active root, the archive tree is also checked.
func (s *Store) Load(jobID string, includeArchive bool) (*jobstate.JobState, error) {
	dir, err := s.jobDir(jobID, false)
	if err != nil {
		return nil, err
	}
	state, err := readStateFile(filepath.Join(dir, stateFileName))
	if err == nil {
		return state, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	if !includeArchive {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	archiveDir, err := s.jobDir(jobID, true)
	if err != nil {
		return nil, err
	}
	state, err = readStateFile(filepath.Join(archiveDir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, err
	}
	return state, nil
}

// Delete removes a job's directory entirely (active or archived).
func (s *Store) Delete(jobID string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.jobDir(jobID, false)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return os.RemoveAll(dir)
	}

	archiveDir, err := s.jobDir(jobID, true)
	if err != nil {
		return err
	}
	if _, err := os.Stat(archiveDir); err == nil {
		return os.RemoveAll(archiveDir)
	}
	return fmt.Errorf("%w: %s", ErrNotFound, jobID)
}

// Archive moves a terminal job's directory under archive/ and stamps
// ArchivedAt.
func (s *Store) Archive(jobID string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.jobDir(jobID, false)
	if err != nil {
		return err
	}
	state, err := readStateFile(filepath.Join(dir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return err
	}
	if !state.Metadata.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrNotTerminal, jobID, state.Metadata.Status)
	}

	now := time.Now().UTC()
	state.Metadata.ArchivedAt = &now
	state.Metadata.Status = jobstate.JobArchived
	if err := atomicfile.WriteJSON(filepath.Join(dir, stateFileName), state); err != nil {
		return err
	}

	archiveDir, err := s.jobDir(jobID, true)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(archiveDir), 0o755); err != nil {
		return err
	}
	return os.Rename(dir, archiveDir)
}

// Summary is the lightweight listing projection returned by List: enough
// to render a job table without reading outputs.
type Summary struct {
	Metadata jobstate.JobMetadata
}

// List scans job directories and returns metadata only, newest first,
// optionally filtered by status and capped at limit (0 = unlimited).
func (s *Store) List(status jobstate.JobStatus, limit int, includeArchive bool) ([]Summary, error) {
	var out []Summary

	collect := func(root string) error {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name() == archiveDirName {
				continue
			}
			state, err := readStateFile(filepath.Join(root, entry.Name(), stateFileName))
			if err != nil {
				continue
			}
			if status != "" && state.Metadata.Status != status {
				continue
			}
			out = append(out, Summary{Metadata: state.Metadata})
		}
		return nil
	}

	if err := collect(s.root); err != nil {
		return nil, err
	}
	if includeArchive {
		if err := collect(filepath.Join(s.root, archiveDirName)); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.CreatedAt.After(out[j].Metadata.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendLog appends a single trace line to the job's logs/job.log, creating
// the file on first use. Lines are newline-terminated plain text; callers
// (the Engine's event sink) supply their own timestamp/formatting.
func (s *Store) AppendLog(jobID, line string) error {
	lock := s.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.jobDir(jobID, false)
	if err != nil {
		return err
	}
	logDir := filepath.Join(dir, logsDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, "job.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err = f.WriteString(line)
	return err
}

// SaveOutput writes a user-visible artifact under the job's outputs/ dir.
func (s *Store) SaveOutput(jobID, name string, content []byte) error {
	dir, err := s.jobDir(jobID, false)
	if err != nil {
		return err
	}
	path, err := pathutil.SafeJoin(dir, outputsDirName, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteBytes(path, content)
}

// LoadOutput reads a previously saved artifact.
func (s *Store) LoadOutput(jobID, name string) ([]byte, error) {
	dir, err := s.jobDir(jobID, false)
	if err != nil {
		return nil, err
	}
	path, err := pathutil.SafeJoin(dir, outputsDirName, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, jobID, name)
		}
		return nil, err
	}
	return data, nil
}

// CleanupOldArchives removes archived job directories whose ArchivedAt is
// older than the cutoff. No implicit retention policy beyond this is
// imposed; callers schedule it (SPEC_FULL.md §9 open question resolution).
func (s *Store) CleanupOldArchives(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	archiveRoot := filepath.Join(s.root, archiveDirName)
	entries, err := os.ReadDir(archiveRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(archiveRoot, entry.Name())
		state, err := readStateFile(filepath.Join(path, stateFileName))
		if err != nil {
			continue
		}
		if state.Metadata.ArchivedAt != nil && state.Metadata.ArchivedAt.Before(cutoff) {
			if err := os.RemoveAll(path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Stats is the aggregate view returned by Stats(): counts and byte sizes
// per status bucket plus archive totals.
type Stats struct {
	TotalJobs       int
	TotalArchived   int
	TotalSizeBytes  int64
	ArchivedSizeBytes int64
	StatusCounts    map[jobstate.JobStatus]int
}

// Stats walks the store directory tree and summarizes job counts and disk
// usage per status.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{StatusCounts: make(map[jobstate.JobStatus]int)}

	walk := func(root string, archived bool) error {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name() == archiveDirName {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			state, err := readStateFile(filepath.Join(dir, stateFileName))
			if err != nil {
				continue
			}
			size, err := dirSize(dir)
			if err != nil {
				return err
			}
			stats.StatusCounts[state.Metadata.Status]++
			if archived {
				stats.TotalArchived++
				stats.ArchivedSizeBytes += size
			} else {
				stats.TotalJobs++
				stats.TotalSizeBytes += size
			}
		}
		return nil
	}

	if err := walk(s.root, false); err != nil {
		return stats, err
	}
	if err := walk(filepath.Join(s.root, archiveDirName), true); err != nil {
		return stats, err
	}
	return stats, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func readStateFile(path string) (*jobstate.JobState, error) {
	var state jobstate.JobState
	if err := atomicfile.ReadJSON(path, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
