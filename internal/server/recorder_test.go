package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/symregweb/internal/engine/enginetest"
	"github.com/cwbudde/symregweb/internal/orchestrator"
	"github.com/cwbudde/symregweb/internal/store"
)

func newResultStore(t *testing.T) *store.FSStore {
	t.Helper()
	results, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return results
}

func TestRecorder_SavesCompletedRun(t *testing.T) {
	results := newResultStore(t)
	m := NewManager(ManagerOptions{
		Engine:      &enginetest.Engine{TotalCycles: 4},
		MaxSessions: 4,
		Results:     results,
	})
	defer m.Close()

	session, err := m.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, session)

	result, err := results.LoadResult(session.ID())
	if err != nil {
		t.Fatalf("LoadResult failed: %v", err)
	}
	if result.Outcome != store.OutcomeCompleted {
		t.Errorf("Expected completed outcome, got %s", result.Outcome)
	}
	if result.Snapshot == nil || result.Snapshot.CyclesCompleted != 4 {
		t.Fatalf("Expected final snapshot with 4 cycles, got %+v", result.Snapshot)
	}
	if len(result.Operators) != 2 {
		t.Errorf("Expected request operators, got %v", result.Operators)
	}

	reader, err := store.NewTraceReader(results.BaseDir(), session.ID())
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	// one snapshot per cycle plus the final one
	if len(entries) != 5 {
		t.Errorf("Expected 5 trace entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CyclesCompleted < entries[i-1].CyclesCompleted {
			t.Errorf("Trace cycles decreased at entry %d", i)
		}
	}
}

func TestRecorder_SavesFailedRun(t *testing.T) {
	results := newResultStore(t)
	m := NewManager(ManagerOptions{
		Engine:      &enginetest.Engine{TotalCycles: 4, FailAtStep: 3, StepErr: errors.New("matrix exploded")},
		MaxSessions: 4,
		Results:     results,
	})
	defer m.Close()

	session, err := m.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, session)

	result, err := results.LoadResult(session.ID())
	if err != nil {
		t.Fatalf("LoadResult failed: %v", err)
	}
	if result.Outcome != store.OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
	if result.Error != "engine failure during step: matrix exploded" {
		t.Errorf("Unexpected error %q", result.Error)
	}
	if result.Snapshot == nil || result.Snapshot.CyclesCompleted != 2 {
		t.Errorf("Expected the last good snapshot, got %+v", result.Snapshot)
	}
}

func TestRecorder_Disabled(t *testing.T) {
	r := NewRecorder(nil)
	if r.Enabled() {
		t.Error("Recorder without a store should be disabled")
	}

	// all calls are no-ops
	r.Begin("session")
	r.Abort("session")
	r.Close()
}

func TestRecorder_SavesRunCancelledByClose(t *testing.T) {
	results := newResultStore(t)
	release := make(chan struct{})
	defer close(release)
	m := NewManager(ManagerOptions{
		Engine:      blockingEngine(release),
		MaxSessions: 4,
		Results:     results,
	})

	session, err := m.Create(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for session.State() != orchestrator.StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("Session never started running, state %s", session.State())
		}
		time.Sleep(time.Millisecond)
	}

	m.Close()

	if state := waitFor(t, session); state != orchestrator.StateCancelled {
		t.Errorf("Expected cancelled state, got %s", state)
	}
	result, err := results.LoadResult(session.ID())
	if err != nil {
		t.Fatalf("Expected a result for the closed run: %v", err)
	}
	if result.Outcome != store.OutcomeCancelled {
		t.Errorf("Expected cancelled outcome, got %s", result.Outcome)
	}
}
