package reload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Validator parses and validates a changed file's contents, returning
// the parsed value that will be handed to ApplyFunc. A non-nil error
// rejects the reload without touching the previously applied value
// (spec.md §4.6 step 2).
type Validator func(data []byte) (any, error)

// ApplyFunc installs a validated config value into whatever it
// configures (an Agent Registry, the Compiler's workflow set, a model
// mapping, a policy table). It must be safe to call again with the
// previous value for rollback, and in-flight jobs must keep using the
// config snapshot they started with (spec.md §4.6 concurrency note) —
// Monitor itself never reaches into running jobs, it only calls this
// hook.
type ApplyFunc func(kind FileKind, path string, parsed any) error

// Counters tracks the running total/failed/success-rate triple spec.md
// §4.6 step 4 requires, per the monitor as a whole (the original
// tracked these per callback; this module tracks them globally and
// callers needing a per-kind breakdown can wrap ApplyFunc).
type Counters struct {
	mu            sync.Mutex
	totalReloads  uint64
	failedReloads uint64
}

func (c *Counters) record(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalReloads++
	if !success {
		c.failedReloads++
	}
}

// Snapshot returns the current totals and the derived success rate (1.0
// when no reload has happened yet).
func (c *Counters) Snapshot() (total, failed uint64, successRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalReloads == 0 {
		return 0, 0, 1.0
	}
	rate := float64(c.totalReloads-c.failedReloads) / float64(c.totalReloads)
	return c.totalReloads, c.failedReloads, rate
}

// Monitor watches a set of directories for configuration file changes
// and reloads them through a debounce-validate-apply-rollback pipeline
// (spec.md §4.6), grounded on the pack's fsnotify-based hot-reload
// watchers and the original hot_reload.py's debounce/validate/rollback
// shape.
type Monitor struct {
	logger logr.Logger
	apply  ApplyFunc

	watcher    *fsnotify.Watcher
	validators map[FileKind]Validator
	rules      []classifyRule

	debounce  time.Duration
	pollEvery time.Duration

	mu      sync.Mutex
	pending map[string]time.Time

	lastGoodMu sync.Mutex
	lastGood   map[string]any

	counters Counters

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithDebounce overrides the default 1-second coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithPollInterval overrides how often the debounce goroutine checks
// pending changes for maturity. Default 500ms, matching the original.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollEvery = d
		}
	}
}

// WithValidator registers the Validator used for files classified as
// kind.
func WithValidator(kind FileKind, v Validator) Option {
	return func(m *Monitor) { m.validators[kind] = v }
}

// WithClassifyRule adds a classify rule ahead of the built-in defaults,
// so a caller can widen or override which paths map to which kind.
func WithClassifyRule(kind FileKind, match func(path string) bool) Option {
	return func(m *Monitor) { m.rules = append([]classifyRule{{kind: kind, match: match}}, m.rules...) }
}

// New constructs a Monitor. apply is called for every file that passes
// validation; it must not be nil.
func New(logger logr.Logger, apply ApplyFunc, opts ...Option) (*Monitor, error) {
	if apply == nil {
		return nil, fmt.Errorf("reload: apply func is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: new watcher: %w", err)
	}

	m := &Monitor{
		logger:     logger,
		apply:      apply,
		watcher:    watcher,
		validators: make(map[FileKind]Validator),
		rules:      defaultRules(),
		debounce:   1 * time.Second,
		pollEvery:  500 * time.Millisecond,
		pending:    make(map[string]time.Time),
		lastGood:   make(map[string]any),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Watch recursively adds dir and its subdirectories to the underlying
// fsnotify watcher. Missing directories are skipped with a warning,
// matching the original's tolerant start_watching behaviour.
func (m *Monitor) Watch(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		m.logger.Info("reload: config directory does not exist, skipping", "dir", dir)
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if werr := m.watcher.Add(path); werr != nil {
				return fmt.Errorf("reload: watch %s: %w", path, werr)
			}
		}
		return nil
	})
}

// Start launches the fsnotify event loop and the single debounce
// goroutine spec.md §4.6's concurrency note requires. It returns right
// after launching them, without waiting for either to start; Stop (or
// ctx cancellation) tears them down.
func (m *Monitor) Start(ctx context.Context) {
	go m.watchLoop(ctx)
	go m.debounceLoop(ctx)
}

// Stop signals both goroutines to exit, waits for the debounce goroutine
// to finish, and then closes the watcher. It does not wait for the event
// loop goroutine.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	_ = m.watcher.Close()
}

// Counters returns the cumulative total/failed reload counts and the
// derived success rate.
func (m *Monitor) Counters() (total, failed uint64, successRate float64) {
	return m.counters.Snapshot()
}

func (m *Monitor) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, ok := m.classify(event.Name); !ok {
				continue
			}
			m.mu.Lock()
			m.pending[event.Name] = time.Now()
			m.mu.Unlock()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error(err, "reload: watcher error")
		}
	}
}

// debounceLoop is the single debounce thread spec.md §4.6 requires: it
// polls the pending-changes map on a fixed cadence and reloads any
// entry that has been stable for at least the debounce window.
func (m *Monitor) debounceLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			var ready []string
			m.mu.Lock()
			for path, changedAt := range m.pending {
				if now.Sub(changedAt) >= m.debounce {
					ready = append(ready, path)
					delete(m.pending, path)
				}
			}
			m.mu.Unlock()

			for _, path := range ready {
				m.reloadFile(path)
			}
		}
	}
}

// reloadFile runs one path through validate, apply, and rollback on
// apply failure (spec.md §4.6 steps 2-3), updating the counters exactly
// once per call.
func (m *Monitor) reloadFile(path string) {
	kind, ok := m.classify(path)
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		m.logger.Error(err, "reload: read config file failed", "path", path)
		m.counters.record(false)
		return
	}

	validator, ok := m.validators[kind]
	if !ok {
		m.logger.Error(ErrNoValidator, "reload: skipping reload", "kind", kind, "path", path)
		m.counters.record(false)
		return
	}

	parsed, err := validator(data)
	if err != nil {
		m.logger.Error(&ValidationError{Path: path, Kind: kind, Err: err}, "reload: rejected invalid config, retaining prior config")
		m.counters.record(false)
		return
	}

	m.lastGoodMu.Lock()
	previous, hadPrevious := m.lastGood[path]
	m.lastGoodMu.Unlock()

	if applyErr := m.apply(kind, path, parsed); applyErr != nil {
		m.logger.Error(&ApplyError{Path: path, Kind: kind, Err: applyErr}, "reload: apply failed, rolling back")
		if hadPrevious {
			if rollbackErr := m.apply(kind, path, previous); rollbackErr != nil {
				m.logger.Error(rollbackErr, "reload: rollback also failed, config may be inconsistent", "path", path)
			}
		}
		m.counters.record(false)
		return
	}

	m.lastGoodMu.Lock()
	m.lastGood[path] = parsed
	m.lastGoodMu.Unlock()
	m.counters.record(true)
	m.logger.Info("reload: applied config change", "kind", kind, "path", path)
}

// ForceReloadAll walks dir and synchronously reloads every file that
// classifies to a known kind, bypassing the debounce window. Grounded
// on the original manager's force_reload_all, useful for an initial
// load at startup before the watcher's first event arrives.
func (m *Monitor) ForceReloadAll(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := m.classify(path); ok {
			m.reloadFile(path)
		}
		return nil
	})
}
