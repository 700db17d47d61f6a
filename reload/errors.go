// Package reload implements the hot-reload monitor: an fsnotify-based
// watcher that debounces bursts of filesystem events, validates changed
// configuration files per their kind, and applies or rolls back the
// result without disturbing jobs already in flight.
package reload

import "errors"

// ErrUnclassifiedFile indicates a changed file matched none of the
// registered classify rules and was ignored.
var ErrUnclassifiedFile = errors.New("reload: file does not match a known config kind")

// ErrNoValidator indicates a file classified to a kind with no
// registered Validator.
var ErrNoValidator = errors.New("reload: no validator registered for kind")

// ValidationError wraps a rejected reload with the path and kind that
// failed, so callers can log or surface it without re-deriving context.
type ValidationError struct {
	Path string
	Kind FileKind
	Err  error
}

func (e *ValidationError) Error() string {
	return "reload: " + string(e.Kind) + " " + e.Path + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ApplyError wraps a failed ApplyFunc invocation, distinguishing it from
// a ValidationError so callers can tell "content was invalid" from
// "content was valid but the registry rejected it at apply time".
type ApplyError struct {
	Path string
	Kind FileKind
	Err  error
}

func (e *ApplyError) Error() string {
	return "reload: apply " + string(e.Kind) + " " + e.Path + ": " + e.Err.Error()
}

func (e *ApplyError) Unwrap() error { return e.Err }
