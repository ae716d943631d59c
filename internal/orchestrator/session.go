// Package orchestrator drives run-loop controllers on behalf of an operator.
//
// A Session owns one execution context at a time. Start tears down any
// previous context, spawns a fresh controller, initializes it and issues a
// single Run once the controller reports Ready. Events are folded into a
// RunState and a presentation cache holding the latest snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cwbudde/symregweb/internal/controller"
	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/metrics"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
)

// RunState is the lifecycle state of a session.
type RunState string

const (
	StateIdle         RunState = "idle"
	StateInitializing RunState = "initializing"
	StateRunning      RunState = "running"
	StateCompleted    RunState = "completed"
	StateCancelled    RunState = "cancelled"
	StateFailed       RunState = "failed"
)

// Active reports whether a run is in progress.
func (s RunState) Active() bool {
	return s == StateInitializing || s == StateRunning
}

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

var (
	// ErrNotActive is returned by Stop when no run is in progress.
	ErrNotActive = errors.New("no active run")

	// ErrInvalidRun is returned by Start for run parameters below 1.
	ErrInvalidRun = errors.New("invalid run parameters")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes one run.
type Request struct {
	Data      string
	Config    search.Configuration
	Operators []string
	Run       protocol.Run
}

// Normalize returns the request as Start runs it: configuration bounds
// clamped and operators trimmed, with the default vocabulary when empty.
// Run parameters below 1 fail with ErrInvalidRun.
func (req Request) Normalize() (Request, error) {
	if err := validate.Struct(req.Run); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	req.Config = req.Config.Clamp()
	if err := req.Config.Validate(); err != nil {
		return Request{}, err
	}
	req.Operators = NormalizeOperators(req.Operators)
	return req, nil
}

// Observer receives every event applied to a session, in emission order,
// together with the state it produced. It runs on the session's event
// goroutine without the session lock held; it may read the session but must
// not Start or Stop it.
type Observer func(sessionID string, ev protocol.Event, state RunState)

// Options configures a Session.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
}

// Status is a point-in-time view of a session.
type Status struct {
	ID        string               `json:"id"`
	State     RunState             `json:"state"`
	Config    search.Configuration `json:"config"`
	Operators []string             `json:"operators"`
	Snapshot  *search.Snapshot     `json:"snapshot,omitempty"`
	Error     string               `json:"error,omitempty"`
	StartTime time.Time            `json:"startTime"`
	EndTime   *time.Time           `json:"endTime,omitempty"`
}

// Session orchestrates runs against one engine.
type Session struct {
	id       string
	engine   engine.Engine
	logger   *slog.Logger
	base     *slog.Logger // without session_id, which controllers add
	observer Observer

	mu         sync.Mutex
	state      RunState
	latest     *search.Snapshot
	lastErr    string
	req        Request
	startTime  time.Time
	endTime    *time.Time
	generation uint64
	ctrl       *controller.Controller
	tracker    *protocol.Tracker
	cancel     context.CancelFunc
	finished   chan struct{}
}

// NewSession creates an idle session.
func NewSession(id string, eng engine.Engine, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	finished := make(chan struct{})
	close(finished)
	return &Session{
		id:       id,
		engine:   eng,
		logger:   logger.With("session_id", id),
		base:     logger,
		observer: opts.Observer,
		state:    StateIdle,
		finished: finished,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Start begins a new run. Any previous execution context is discarded along
// with its engine handle. Configuration bounds are clamped to their minimums.
func (s *Session) Start(ctx context.Context, req Request) error {
	req, err := req.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.teardownLocked()
	select {
	case <-s.finished:
	default:
		close(s.finished)
	}
	s.generation++
	gen := s.generation

	ctrlCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ctrl := controller.New(s.engine, controller.Options{SessionID: s.id, Logger: s.base})
	s.ctrl = ctrl
	s.cancel = cancel
	s.tracker = protocol.NewTracker()
	s.state = StateInitializing
	s.latest = nil
	s.lastErr = ""
	s.req = req
	s.startTime = time.Now()
	s.endTime = nil
	s.finished = make(chan struct{})

	initCmd := protocol.Initialize{Data: req.Data, Config: req.Config, Operators: req.Operators}
	if err := s.tracker.Command(initCmd); err != nil {
		s.logger.Warn("Protocol violation", "error", err)
	}
	s.mu.Unlock()

	go func() {
		if err := ctrl.Serve(ctrlCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Controller stopped", "error", err)
		}
	}()
	go s.pump(ctrlCtx, gen, ctrl, req.Run)

	metrics.SessionsStarted.Inc()
	s.logger.Info("Starting session",
		"total_cycles", req.Config.TotalCycles(),
		"operators", strings.Join(req.Operators, ","),
		"step_budget", req.Run.StepBudget,
		"snapshot_every", req.Run.SnapshotEvery,
	)

	if err := ctrl.Send(ctx, initCmd); err != nil {
		return fmt.Errorf("failed to send initialize: %w", err)
	}
	return nil
}

// Stop requests cancellation of the active run. During initialization the
// execution context is torn down at once; while running, a Stop command is
// sent and the controller acknowledges it at its next yield.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateInitializing:
		s.generation++
		finished := s.finishLocked(StateCancelled)
		s.mu.Unlock()

		s.logger.Info("Session cancelled during initialization")
		s.notify(protocol.Stopped{}, StateCancelled)
		s.release(finished)
		return nil
	case StateRunning:
		ctrl := s.ctrl
		if ctrl == nil {
			s.mu.Unlock()
			return ErrNotActive
		}
		if err := s.tracker.Command(protocol.Stop{}); err != nil {
			s.logger.Warn("Protocol violation", "error", err)
		}
		s.mu.Unlock()
		return ctrl.Send(ctx, protocol.Stop{})
	default:
		s.mu.Unlock()
		return ErrNotActive
	}
}

// Close discards the execution context. An active run ends as cancelled and
// the observer sees its Stopped event.
func (s *Session) Close() {
	s.mu.Lock()
	s.teardownLocked()
	s.generation++
	var finished chan struct{}
	if s.state.Active() {
		finished = s.finishLocked(StateCancelled)
	}
	s.mu.Unlock()

	if finished != nil {
		s.notify(protocol.Stopped{}, StateCancelled)
		s.release(finished)
	}
}

// State returns the current run state.
func (s *Session) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns a copy of the most recent snapshot.
func (s *Session) Latest() (search.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return search.Snapshot{}, false
	}
	return s.latest.Clone(), true
}

// Err returns the message of the Error event that failed the last run.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Status returns a copy of the session's current view.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:        s.id,
		State:     s.state,
		Config:    s.req.Config,
		Operators: append([]string(nil), s.req.Operators...),
		Error:     s.lastErr,
		StartTime: s.startTime,
		EndTime:   s.endTime,
	}
	if s.latest != nil {
		snap := s.latest.Clone()
		st.Snapshot = &snap
	}
	return st
}

// Request returns the parameters of the last Start.
func (s *Session) Request() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.req
	req.Operators = append([]string(nil), req.Operators...)
	return req
}

// Wait blocks until the current run reaches a terminal state.
func (s *Session) Wait(ctx context.Context) (RunState, error) {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()

	select {
	case <-finished:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// pump applies the controller's events to the session until the stream closes.
func (s *Session) pump(ctx context.Context, gen uint64, ctrl *controller.Controller, run protocol.Run) {
	for ev := range ctrl.Events() {
		state, finished, ok := s.apply(ctx, gen, ctrl, ev, run)
		if !ok {
			continue
		}
		s.notify(ev, state)

		// waiters are released only after observers have seen the terminal event
		if finished != nil {
			s.release(finished)
		}
	}
}

// apply folds one event into the session state. Events from a context that
// has been torn down are dropped. The Run that answers Ready is sent while
// the lock is held so a concurrent Stop is always queued behind it.
// For terminal events it returns the channel that releases waiters.
func (s *Session) apply(ctx context.Context, gen uint64, ctrl *controller.Controller, ev protocol.Event, run protocol.Run) (RunState, chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return s.state, nil, false
	}
	if err := s.tracker.Event(ev); err != nil {
		s.logger.Warn("Protocol violation", "error", err)
	}

	var finished chan struct{}
	switch m := ev.(type) {
	case protocol.Ready:
		s.state = StateRunning
		if err := s.tracker.Command(run); err != nil {
			s.logger.Warn("Protocol violation", "error", err)
		}
		if err := ctrl.Send(ctx, run); err != nil {
			s.logger.Error("Failed to send run", "error", err)
		}
	case protocol.Snapshot:
		snap := m.Snap
		s.latest = &snap
	case protocol.Done:
		finished = s.finishLocked(StateCompleted)
	case protocol.Stopped:
		finished = s.finishLocked(StateCancelled)
	case protocol.Error:
		s.lastErr = m.Message
		finished = s.finishLocked(StateFailed)
	}
	return s.state, finished, true
}

func (s *Session) notify(ev protocol.Event, state RunState) {
	if state.Terminal() && protocol.IsTerminal(ev) {
		metrics.SessionTerminal.WithLabelValues(string(state)).Inc()
		s.logger.Info("Session finished", "state", string(state))
	}
	if s.observer != nil {
		s.observer(s.id, ev, state)
	}
}

// finishLocked enters a terminal state, tears down the execution context and
// returns the channel that releases waiters of this run.
func (s *Session) finishLocked(state RunState) chan struct{} {
	s.state = state
	now := time.Now()
	s.endTime = &now
	s.teardownLocked()
	return s.finished
}

func (s *Session) release(finished chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-finished:
	default:
		close(finished)
	}
}

// teardownLocked cancels the current execution context. The controller's
// goroutine exits and drops its engine handle.
func (s *Session) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.ctrl = nil
}

// NormalizeOperators trims tokens, drops blanks and falls back to the
// default vocabulary when nothing is left.
func NormalizeOperators(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), engine.DefaultOperators...)
	}
	return out
}

// ParseOperators splits comma-separated operator text.
func ParseOperators(text string) []string {
	return NormalizeOperators(strings.Split(text, ","))
}
