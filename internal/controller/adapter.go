package controller

import (
	"fmt"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/metrics"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
)

// ErrEngineFailure matches any *EngineFailure with errors.Is.
var ErrEngineFailure = &EngineFailure{}

// EngineFailure reports a fault raised by the engine while stepping.
type EngineFailure struct {
	Op  string
	Err error
}

func (e *EngineFailure) Error() string {
	if e.Err == nil {
		return "engine failure"
	}
	return fmt.Sprintf("engine failure during %s: %v", e.Op, e.Err)
}

func (e *EngineFailure) Unwrap() error {
	return e.Err
}

func (e *EngineFailure) Is(target error) bool {
	_, ok := target.(*EngineFailure)
	return ok
}

// safeInitialize builds a handle. Panics become initialization errors.
func (c *Controller) safeInitialize(m protocol.Initialize) (h engine.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = &engine.InitializationError{Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	h, err = c.engine.Initialize(m.Data, m.Config, m.Operators)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, &engine.InitializationError{Cause: fmt.Errorf("engine returned no handle")}
	}
	return h, nil
}

// safeStep advances the handle by budget cycles.
func (c *Controller) safeStep(budget int) (snap search.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EngineFailure{Op: "step", Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			metrics.EngineFailures.WithLabelValues("step").Inc()
		}
	}()
	metrics.ControllerSteps.Inc()

	snap, err = c.handle.Step(budget)
	if err != nil {
		return search.Snapshot{}, &EngineFailure{Op: "step", Err: err}
	}
	return snap, nil
}

func (c *Controller) safeFinished() (finished bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EngineFailure{Op: "is_finished", Err: fmt.Errorf("panic: %v", r)}
			metrics.EngineFailures.WithLabelValues("is_finished").Inc()
		}
	}()
	return c.handle.IsFinished(), nil
}
