// Package protocol defines the messages exchanged between an orchestrator and
// the run-loop controller that drives a search engine, and the rules for the
// order in which they may appear.
package protocol

import "github.com/cwbudde/symregweb/internal/search"

// Kind names a message on the wire.
type Kind string

const (
	KindInit     Kind = "init"
	KindRun      Kind = "run"
	KindStop     Kind = "stop"
	KindReady    Kind = "ready"
	KindSnapshot Kind = "snapshot"
	KindDone     Kind = "done"
	KindStopped  Kind = "stopped"
	KindError    Kind = "error"
)

// Command is a message sent from the orchestrator to the controller.
type Command interface {
	Kind() Kind
	command()
}

// Event is a message sent from the controller to the orchestrator.
type Event interface {
	Kind() Kind
	event()
}

// Initialize asks the controller to build an engine handle.
// It is sent exactly once per execution context, before any Run.
type Initialize struct {
	Data      string
	Config    search.Configuration
	Operators []string
}

// Run starts the stepping loop.
type Run struct {
	// StepBudget is the number of cycles requested from the engine per step
	StepBudget int `json:"stepCycles" validate:"gte=1"`

	// SnapshotEvery emits a snapshot every N steps
	SnapshotEvery int `json:"snapshotEverySteps" validate:"gte=1"`
}

// Stop requests best-effort cancellation of the active run.
type Stop struct{}

// Ready reports a successfully constructed engine handle.
type Ready struct{}

// Snapshot carries a progress report. Ownership of Snap passes to the receiver.
type Snapshot struct {
	Snap search.Snapshot
}

// Done reports that the engine finished the planned work.
type Done struct{}

// Stopped acknowledges a Stop that won the race against completion.
type Stopped struct{}

// Error terminates the session. No further events follow it.
type Error struct {
	Message string
}

func (Initialize) Kind() Kind { return KindInit }
func (Run) Kind() Kind        { return KindRun }
func (Stop) Kind() Kind       { return KindStop }
func (Ready) Kind() Kind      { return KindReady }
func (Snapshot) Kind() Kind   { return KindSnapshot }
func (Done) Kind() Kind       { return KindDone }
func (Stopped) Kind() Kind    { return KindStopped }
func (Error) Kind() Kind      { return KindError }

func (Initialize) command() {}
func (Run) command()        {}
func (Stop) command()       {}

func (Ready) event()    {}
func (Snapshot) event() {}
func (Done) event()     {}
func (Stopped) event()  {}
func (Error) event()    {}

// IsTerminal reports whether e ends a Run invocation.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Done, Stopped, Error:
		return true
	}
	return false
}

// DefaultRun mirrors the interactive surface's settings: one cycle per step
// and a snapshot after every step.
func DefaultRun() Run {
	return Run{StepBudget: 1, SnapshotEvery: 1}
}
