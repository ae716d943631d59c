package protocol

import "sync"

// Phase is the position of a session in the protocol, as seen from either end.
type Phase string

const (
	PhaseAwaitingInit Phase = "awaiting_init"
	PhaseInitializing Phase = "initializing"
	PhaseReady        Phase = "ready"
	PhaseRunning      Phase = "running"
	PhaseTerminated   Phase = "terminated"
)

// Tracker follows one execution context through the protocol and reports
// messages that are not allowed in the current phase.
//
//	awaiting_init --init--> initializing --ready--> ready --run--> running
//	running --done|stopped--> ready
//	any --error--> terminated
//
// Stop is accepted in ready and running. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	phase     Phase
	runs      int
	terminals int
}

// NewTracker returns a tracker for a fresh execution context.
func NewTracker() *Tracker {
	return &Tracker{phase: PhaseAwaitingInit}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Runs returns the number of Run commands accepted so far.
func (t *Tracker) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Terminals returns the number of terminal events observed so far.
func (t *Tracker) Terminals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminals
}

// Command records an outgoing command.
func (t *Tracker) Command(c Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch c.(type) {
	case Initialize:
		if t.phase != PhaseAwaitingInit {
			return t.violation(c.Kind())
		}
		t.phase = PhaseInitializing
	case Run:
		if t.phase != PhaseReady {
			return t.violation(c.Kind())
		}
		t.phase = PhaseRunning
		t.runs++
	case Stop:
		if t.phase != PhaseReady && t.phase != PhaseRunning {
			return t.violation(c.Kind())
		}
	}
	return nil
}

// Event records an incoming event.
func (t *Tracker) Event(e Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTerminated {
		return t.violation(e.Kind())
	}

	switch e.(type) {
	case Ready:
		if t.phase != PhaseInitializing {
			return t.violation(e.Kind())
		}
		t.phase = PhaseReady
	case Snapshot:
		if t.phase != PhaseRunning {
			return t.violation(e.Kind())
		}
	case Done, Stopped:
		if t.phase != PhaseRunning {
			return t.violation(e.Kind())
		}
		t.phase = PhaseReady
		t.terminals++
	case Error:
		if t.phase == PhaseRunning {
			t.terminals++
		}
		t.phase = PhaseTerminated
	}
	return nil
}

func (t *Tracker) violation(kind Kind) error {
	return &ViolationError{Phase: t.phase, Message: kind}
}

// ErrViolation matches any *ViolationError with errors.Is.
var ErrViolation = &ViolationError{}

// ViolationError reports a message that arrived in a phase where it is not allowed,
// for example a Run before Ready.
type ViolationError struct {
	Phase   Phase
	Message Kind
}

func (e *ViolationError) Error() string {
	if e.Message == "" {
		return "protocol violation"
	}
	return "protocol violation: " + string(e.Message) + " not allowed in phase " + string(e.Phase)
}

func (e *ViolationError) Is(target error) bool {
	_, ok := target.(*ViolationError)
	return ok
}
