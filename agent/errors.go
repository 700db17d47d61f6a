package agent

import "errors"

// ErrAgentNotFound indicates dispatch was attempted against an agent id
// the Registry has no registration for.
var ErrAgentNotFound = errors.New("agent not found")

// ErrInvalidInputs indicates the input map presented at dispatch failed
// contract validation.
var ErrInvalidInputs = errors.New("invalid agent inputs")

// ErrInvalidContract indicates Register was called with a contract that
// fails its own shape validation.
var ErrInvalidContract = errors.New("invalid agent contract")

// ErrAlreadyRegistered indicates Register was called twice for the same
// agent id.
var ErrAlreadyRegistered = errors.New("agent already registered")
