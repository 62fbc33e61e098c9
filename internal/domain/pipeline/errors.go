package pipeline

import (
	"errors"
	"fmt"

	"github.com/streamctl/streamd/internal/engine"
)

// ErrAmbiguousTarget is returned when a command omits the pipeline id and
// more than one (or zero) pipelines are registered, so no default target
// can be chosen.
var ErrAmbiguousTarget = errors.New("pipeline id required: cannot pick a default among multiple pipelines")

// NotFoundError reports a pipeline id with no live registry entry.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pipeline %q not found", e.ID)
}

// DuplicateIDError reports a caller-supplied id that is already registered.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("pipeline %q already exists", e.ID)
}

// LimitError reports that the registry is at capacity.
type LimitError struct {
	Max int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("pipeline limit reached (%d)", e.Max)
}

// RejectedError reports that the engine could not build a runnable instance
// from a description. Err is the engine's own failure; use
// engine.IsUnsupportedMedia to tell a missing-capability failure from a
// malformed description.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("pipeline creation failed: %v", e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// StateChangeError reports a refused or impossible state transition. The
// pipeline stays in its last-known normalized state.
type StateChangeError struct {
	Target engine.State
	Err    error
}

func (e *StateChangeError) Error() string {
	return fmt.Sprintf("state change to %s failed: %v", e.Target, e.Err)
}

func (e *StateChangeError) Unwrap() error { return e.Err }

// errNoInstance is the cause when a command needs a live engine instance
// and the pipeline has none (failed create, or torn down after EOS).
var errNoInstance = errors.New("no live engine instance")
