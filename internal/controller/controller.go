// Package controller implements the run-loop controller: a cooperative
// scheduler that owns one engine handle and drives it in bounded steps in
// response to protocol commands.
//
// A Controller is one execution context. Commands go in through Send, events
// come out of Events in emission order, and Serve runs the loop on the
// caller's goroutine until the context ends or the session terminates with an
// Error event.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/metrics"
	"github.com/cwbudde/symregweb/internal/protocol"
)

var tracer = otel.Tracer("symregweb.controller")

const (
	commandBuffer = 16
	eventBuffer   = 64
)

// State is the controller's position in its lifecycle.
type State int32

const (
	StateAwaitingInit State = iota
	StateReady
	StateLooping
	StateFinishing
	StateCancelling
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting_init"
	case StateReady:
		return "ready"
	case StateLooping:
		return "looping"
	case StateFinishing:
		return "finishing"
	case StateCancelling:
		return "cancelling"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrClosed is returned by Send after the controller has stopped serving.
var ErrClosed = errors.New("controller closed")

// Options configures a Controller.
type Options struct {
	// SessionID is attached to log records and spans
	SessionID string

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Controller drives one engine handle. The handle is touched only by the
// goroutine running Serve.
type Controller struct {
	engine   engine.Engine
	handle   engine.Handle
	commands chan protocol.Command
	events   chan protocol.Event
	done     chan struct{}
	state    atomic.Int32
	session  string
	logger   *slog.Logger
}

// New creates a controller for eng. Call Serve to start it.
func New(eng engine.Engine, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionID != "" {
		logger = logger.With("session_id", opts.SessionID)
	}
	return &Controller{
		engine:   eng,
		commands: make(chan protocol.Command, commandBuffer),
		events:   make(chan protocol.Event, eventBuffer),
		done:     make(chan struct{}),
		session:  opts.SessionID,
		logger:   logger,
	}
}

// Events returns the ordered event stream. It is closed when Serve returns.
func (c *Controller) Events() <-chan protocol.Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Send delivers a command. It blocks while the command buffer is full.
func (c *Controller) Send(ctx context.Context, cmd protocol.Command) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.commands <- cmd:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve processes commands until ctx is cancelled or an Error event ends the
// session. It returns nil after an Error event and ctx.Err() on cancellation.
func (c *Controller) Serve(ctx context.Context) error {
	defer close(c.events)
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			if err := c.dispatch(ctx, cmd); err != nil {
				if errors.Is(err, errTerminated) {
					return nil
				}
				return err
			}
		}
	}
}

// errTerminated signals that an Error event was emitted and Serve must return.
var errTerminated = errors.New("session terminated")

func (c *Controller) dispatch(ctx context.Context, cmd protocol.Command) error {
	switch m := cmd.(type) {
	case protocol.Initialize:
		return c.initialize(ctx, m)
	case protocol.Run:
		return c.run(ctx, m)
	case protocol.Stop:
		// Nothing is running; a late Stop that lost the race is dropped here.
		c.logger.Debug("Ignoring stop while idle", "state", c.State().String())
		return nil
	}
	return fmt.Errorf("unknown command %T", cmd)
}

func (c *Controller) initialize(ctx context.Context, m protocol.Initialize) error {
	if c.State() != StateAwaitingInit {
		c.logger.Warn("Ignoring repeated initialize", "state", c.State().String())
		return nil
	}

	_, span := tracer.Start(ctx, "controller.initialize",
		trace.WithAttributes(
			attribute.String("session_id", c.session),
			attribute.Int("data_bytes", len(m.Data)),
			attribute.Int("operators", len(m.Operators)),
		),
	)
	defer span.End()

	handle, err := c.safeInitialize(m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initialize failed")
		metrics.EngineFailures.WithLabelValues("initialize").Inc()
		return c.fail(ctx, err)
	}

	c.handle = handle
	c.setState(StateReady)
	c.logger.Info("Search initialized", "total_cycles", m.Config.TotalCycles())
	return c.emit(ctx, protocol.Ready{})
}

func (c *Controller) run(ctx context.Context, m protocol.Run) error {
	if c.handle == nil {
		return c.fail(ctx, errors.New("search not initialized"))
	}
	if m.StepBudget < 1 || m.SnapshotEvery < 1 {
		return c.fail(ctx, fmt.Errorf("invalid run parameters: stepCycles=%d snapshotEverySteps=%d", m.StepBudget, m.SnapshotEvery))
	}
	if c.State() != StateReady {
		c.logger.Warn("Ignoring run while not ready", "state", c.State().String())
		return nil
	}

	ctx, span := tracer.Start(ctx, "controller.run",
		trace.WithAttributes(
			attribute.String("session_id", c.session),
			attribute.Int("step_budget", m.StepBudget),
			attribute.Int("snapshot_every", m.SnapshotEvery),
		),
	)
	defer span.End()

	start := time.Now()
	terminal, err := c.loop(ctx, m)
	span.SetAttributes(attribute.String("terminal", string(terminal)))
	if err != nil && !errors.Is(err, errTerminated) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if terminal != "" {
		metrics.RunDuration.WithLabelValues(string(terminal)).Observe(time.Since(start).Seconds())
	}
	return err
}

// loop is the stepping core. Engine work happens in bounded steps of
// StepBudget cycles; every SnapshotEvery steps a snapshot is emitted and the
// loop yields so that a pending Stop can be observed.
func (c *Controller) loop(ctx context.Context, m protocol.Run) (protocol.Kind, error) {
	c.setState(StateLooping)
	c.logger.Info("Run started", "step_budget", m.StepBudget, "snapshot_every", m.SnapshotEvery)

	running := true
	steps := 0
	for running {
		finished, err := c.safeFinished()
		if err != nil {
			return protocol.KindError, c.fail(ctx, err)
		}
		if finished {
			break
		}

		snap, err := c.safeStep(m.StepBudget)
		if err != nil {
			return protocol.KindError, c.fail(ctx, err)
		}
		steps++

		if steps%m.SnapshotEvery == 0 {
			if err := c.emit(ctx, protocol.Snapshot{Snap: snap}); err != nil {
				return "", err
			}
			metrics.SnapshotsEmitted.Inc()

			stop, err := c.yield(ctx)
			if err != nil {
				return "", err
			}
			running = !stop
		}
	}

	if !running {
		c.setState(StateCancelling)
		c.logger.Info("Run stopped", "steps", steps)
		if err := c.emit(ctx, protocol.Stopped{}); err != nil {
			return "", err
		}
		c.setState(StateReady)
		return protocol.KindStopped, nil
	}

	c.setState(StateFinishing)
	final, err := c.safeStep(0)
	if err != nil {
		return protocol.KindError, c.fail(ctx, err)
	}
	if err := c.emit(ctx, protocol.Snapshot{Snap: final}); err != nil {
		return "", err
	}
	metrics.SnapshotsEmitted.Inc()
	c.logger.Info("Run finished",
		"steps", steps,
		"cycles_completed", final.CyclesCompleted,
		"total_evals", final.TotalEvaluations,
		"best_loss", final.Best.Loss,
	)
	if err := c.emit(ctx, protocol.Done{}); err != nil {
		return "", err
	}
	c.setState(StateReady)
	return protocol.KindDone, nil
}

// yield suspends for zero duration, then drains commands that arrived during
// the last steps. It reports whether a Stop was among them.
func (c *Controller) yield(ctx context.Context) (bool, error) {
	runtime.Gosched()

	stop := false
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-c.commands:
			switch cmd.(type) {
			case protocol.Stop:
				stop = true
			default:
				c.logger.Warn("Dropping command during run", "kind", string(cmd.Kind()))
			}
		default:
			return stop, nil
		}
	}
}

// fail emits the Error event that terminates the session.
func (c *Controller) fail(ctx context.Context, err error) error {
	c.setState(StateTerminated)
	c.handle = nil
	c.logger.Error("Session failed", "error", err)
	if emitErr := c.emit(ctx, protocol.Error{Message: err.Error()}); emitErr != nil {
		return emitErr
	}
	return errTerminated
}

func (c *Controller) emit(ctx context.Context, ev protocol.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}
