// Package enginetest provides a scriptable engine for controller and
// orchestrator tests.
package enginetest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/search"
)

// Engine is a deterministic stand-in for a search engine. Each cycle adds
// EvalsPerCycle evaluations and a frontier entry of increasing complexity.
type Engine struct {
	// TotalCycles is the planned work of every handle
	TotalCycles int

	// EvalsPerCycle defaults to 10
	EvalsPerCycle int64

	// InitErr is returned from Initialize when set
	InitErr error

	// FailAtStep makes the Nth Step call (1-based) return StepErr
	FailAtStep int
	StepErr    error

	// PanicAtStep makes the Nth Step call (1-based) panic
	PanicAtStep int

	// OnStep runs at the start of every Step call with its 1-based index
	OnStep func(step int)

	handles atomic.Int32
}

// Handles returns the number of handles created so far.
func (e *Engine) Handles() int {
	return int(e.handles.Load())
}

// Initialize implements engine.Engine. Operator tokens are checked against
// the built-in vocabulary so unknown tokens fail the same way.
func (e *Engine) Initialize(data string, cfg search.Configuration, operators []string) (engine.Handle, error) {
	if e.InitErr != nil {
		return nil, &engine.InitializationError{Cause: e.InitErr}
	}
	if data == "" {
		return nil, &engine.InitializationError{Cause: errors.New("CSV had no data rows")}
	}
	if _, err := engine.ResolveOperators(operators); err != nil {
		return nil, &engine.InitializationError{Cause: err}
	}
	e.handles.Add(1)

	evals := e.EvalsPerCycle
	if evals == 0 {
		evals = 10
	}
	return &Handle{engine: e, total: e.TotalCycles, evalsPerCycle: evals}, nil
}

// Handle is the handle returned by Engine.
type Handle struct {
	engine        *Engine
	total         int
	evalsPerCycle int64

	mu        sync.Mutex
	steps     int
	completed int
	evals     int64
}

// Steps returns the number of Step calls made on this handle.
func (h *Handle) Steps() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.steps
}

// Step implements engine.Handle.
func (h *Handle) Step(cycles int) (search.Snapshot, error) {
	h.mu.Lock()
	h.steps++
	step := h.steps
	h.mu.Unlock()

	if h.engine.OnStep != nil {
		h.engine.OnStep(step)
	}
	if h.engine.PanicAtStep == step {
		panic("enginetest: scripted panic")
	}
	if h.engine.FailAtStep == step {
		err := h.engine.StepErr
		if err == nil {
			err = errors.New("scripted failure")
		}
		return search.Snapshot{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < cycles && h.completed < h.total; i++ {
		h.completed++
		h.evals += h.evalsPerCycle
	}
	return h.snapshotLocked(), nil
}

// IsFinished implements engine.Handle.
func (h *Handle) IsFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed >= h.total
}

func (h *Handle) snapshotLocked() search.Snapshot {
	snap := search.Snapshot{
		TotalCycles:      h.total,
		CyclesCompleted:  h.completed,
		TotalEvaluations: h.evals,
		Frontier:         []search.EquationSummary{},
	}
	for c := 1; c <= h.completed; c++ {
		snap.Frontier = append(snap.Frontier, search.EquationSummary{
			Complexity: c,
			Loss:       1 / float64(c),
			Cost:       1/float64(c) + 0.01*float64(c),
			Equation:   "x1",
		})
	}
	if n := len(snap.Frontier); n > 0 {
		snap.Best = snap.Frontier[n-1]
	}
	return snap
}
