package engine

import "errors"

// Structured error categories surfaced to callers. Wrap with context via
// fmt.Errorf("%w: ...", ErrNotFound).
var (
	// ErrNotReady means the engine has not finished initialization;
	// callers should retry.
	ErrNotReady = errors.New("engine not ready")

	// ErrNotFound means a referenced learner, session, question or skill
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the operation contradicts current state, such as
	// starting a second active session or repeating an assessment.
	ErrConflict = errors.New("conflict")
)
