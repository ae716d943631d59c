// Package engine is the narrow façade between the run-loop controller and a
// symbolic-regression search engine.
//
// The controller only knows the Engine and Handle interfaces. Builtin is the
// engine shipped with this repository; tests use the scriptable doubles in
// package enginetest.
package engine

import (
	"github.com/cwbudde/symregweb/internal/search"
)

// Engine constructs search handles.
type Engine interface {
	// Initialize parses data and operators and builds a handle.
	// Malformed data or unknown operator tokens yield an *InitializationError.
	Initialize(data string, cfg search.Configuration, operators []string) (Handle, error)
}

// Handle is one initialized search. It is owned by a single goroutine and
// holds no locks between calls. Dropping the handle releases it.
type Handle interface {
	// Step advances the search by up to cycles cycles and returns the resulting
	// snapshot. Step(0) reports the current state without advancing.
	Step(cycles int) (search.Snapshot, error)

	// IsFinished reports whether the planned work is complete.
	IsFinished() bool
}

// ErrInitialization matches any *InitializationError with errors.Is.
var ErrInitialization = &InitializationError{}

// InitializationError reports input that prevents a search from being built.
type InitializationError struct {
	Cause error
}

func (e *InitializationError) Error() string {
	if e.Cause == nil {
		return "failed to initialize search"
	}
	return "failed to initialize search: " + e.Cause.Error()
}

func (e *InitializationError) Unwrap() error {
	return e.Cause
}

func (e *InitializationError) Is(target error) bool {
	_, ok := target.(*InitializationError)
	return ok
}
