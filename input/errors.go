// Package input resolves heterogeneous job inputs into a normalized
// context, and gates a job's final output against completeness rules
// before the engine lets it reach completed (spec.md §4.8).
package input

import "errors"

// ErrEmptyContent indicates a resolved ContextSet had no primary content
// at all — resolving always produces at least this much or fails.
var ErrEmptyContent = errors.New("input: resolved content is empty")

// ErrNoReadableSources indicates every candidate source for a resolve
// mode was missing, unreadable, or not a regular file.
var ErrNoReadableSources = errors.New("input: no readable sources")

// ErrUnresolvableSpec indicates an InputSpec did not match any supported
// resolve mode.
var ErrUnresolvableSpec = errors.New("input: cannot resolve input spec")
