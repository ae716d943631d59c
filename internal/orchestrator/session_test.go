package orchestrator

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/symregweb/internal/engine"
	"github.com/cwbudde/symregweb/internal/engine/enginetest"
	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
)

const testCSV = "x,y\n1,2\n2,4\n3,6\n"

// recorder collects observed events in order.
type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
	states []RunState
}

func (r *recorder) observe(_ string, ev protocol.Event, state RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.states = append(r.states, state)
}

func (r *recorder) snapshotCycles() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if s, ok := ev.(protocol.Snapshot); ok {
			out = append(out, s.Snap.CyclesCompleted)
		}
	}
	return out
}

func (r *recorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if protocol.IsTerminal(ev) {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.states = nil
}

func request() Request {
	return Request{
		Data:      testCSV,
		Config:    search.DefaultConfiguration(),
		Operators: engine.DefaultOperators,
		Run:       protocol.DefaultRun(),
	}
}

func wait(t *testing.T, s *Session) RunState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := s.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestSession_CompletesRun(t *testing.T) {
	rec := &recorder{}
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 4}, Options{Observer: rec.observe})

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateCompleted, wait(t, s))

	assert.Equal(t, []int{1, 2, 3, 4, 4}, rec.snapshotCycles())
	assert.Equal(t, 1, rec.terminals())
	assert.Equal(t, protocol.Ready{}, rec.events[0])
	assert.Equal(t, StateRunning, rec.states[0])
	assert.Equal(t, protocol.Done{}, rec.events[len(rec.events)-1])
	assert.Equal(t, StateCompleted, rec.states[len(rec.states)-1])

	snap, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 4, snap.CyclesCompleted)
	assert.True(t, snap.Finished())

	st := s.Status()
	assert.Equal(t, StateCompleted, st.State)
	require.NotNil(t, st.EndTime)
	require.NotNil(t, st.Snapshot)
}

func TestSession_StopDuringRun(t *testing.T) {
	eng := &enginetest.Engine{TotalCycles: 1000}
	rec := &recorder{}
	s := NewSession("s1", eng, Options{Observer: rec.observe})
	eng.OnStep = func(step int) {
		if step == 3 {
			assert.NoError(t, s.Stop(context.Background()))
		}
	}

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateCancelled, wait(t, s))

	assert.Equal(t, []int{1, 2, 3}, rec.snapshotCycles())
	assert.Equal(t, 1, rec.terminals())
	assert.Equal(t, protocol.Stopped{}, rec.events[len(rec.events)-1])

	snap, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 3, snap.CyclesCompleted, "last good snapshot stays displayed")
}

func TestSession_InitializationFailure(t *testing.T) {
	rec := &recorder{}
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 4}, Options{Observer: rec.observe})

	req := request()
	req.Operators = []string{"foo", "bar"}
	require.NoError(t, s.Start(context.Background(), req))
	assert.Equal(t, StateFailed, wait(t, s))

	assert.Contains(t, s.Err(), "unknown operator")
	for _, ev := range rec.events {
		assert.NotEqual(t, protocol.Ready{}, ev, "a failed initialize never reports ready")
	}
	_, ok := s.Latest()
	assert.False(t, ok)
}

func TestSession_StepFailureKeepsLastSnapshot(t *testing.T) {
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 10, FailAtStep: 3}, Options{})

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateFailed, wait(t, s))

	assert.Contains(t, s.Err(), "scripted failure")
	snap, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 2, snap.CyclesCompleted)
}

func TestSession_RejectsInvalidRun(t *testing.T) {
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 4}, Options{})

	req := request()
	req.Run.SnapshotEvery = 0
	err := s.Start(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRun)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ClampsConfiguration(t *testing.T) {
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 1}, Options{})

	req := request()
	req.Config = search.Configuration{Seed: 9}
	require.NoError(t, s.Start(context.Background(), req))
	wait(t, s)

	cfg := s.Status().Config
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 1, cfg.Iterations)
	assert.Equal(t, 1, cfg.TopN)
}

func TestSession_EmptyOperatorsFallBack(t *testing.T) {
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 1}, Options{})

	req := request()
	req.Operators = []string{" ", ""}
	require.NoError(t, s.Start(context.Background(), req))
	assert.Equal(t, StateCompleted, wait(t, s))
	assert.Equal(t, engine.DefaultOperators, s.Request().Operators)
}

func TestSession_RestartDiscardsHandle(t *testing.T) {
	eng := &enginetest.Engine{TotalCycles: 4}
	rec := &recorder{}
	s := NewSession("s1", eng, Options{Observer: rec.observe})

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateCompleted, wait(t, s))
	rec.reset()

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateCompleted, wait(t, s))

	assert.Equal(t, 2, eng.Handles())
	assert.Equal(t, []int{1, 2, 3, 4, 4}, rec.snapshotCycles(), "the new run counts from its own start")
}

func TestSession_StopWhileIdle(t *testing.T) {
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 4}, Options{})
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotActive)

	require.NoError(t, s.Start(context.Background(), request()))
	wait(t, s)
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotActive)
}

// gatedEngine blocks Initialize until release is closed.
type gatedEngine struct {
	enginetest.Engine
	release chan struct{}
}

func (g *gatedEngine) Initialize(data string, cfg search.Configuration, ops []string) (engine.Handle, error) {
	<-g.release
	return g.Engine.Initialize(data, cfg, ops)
}

func TestSession_StopDuringInitialization(t *testing.T) {
	eng := &gatedEngine{Engine: enginetest.Engine{TotalCycles: 4}, release: make(chan struct{})}
	rec := &recorder{}
	s := NewSession("s1", eng, Options{Observer: rec.observe})

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateInitializing, s.State())

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateCancelled, wait(t, s))
	close(eng.release)

	assert.Never(t, func() bool { return s.State() != StateCancelled }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, rec.terminals())
}

func TestSession_CloseCancelsActiveRun(t *testing.T) {
	eng := &gatedEngine{Engine: enginetest.Engine{TotalCycles: 4}, release: make(chan struct{})}
	defer close(eng.release)
	rec := &recorder{}
	s := NewSession("s1", eng, Options{Observer: rec.observe})

	require.NoError(t, s.Start(context.Background(), request()))
	s.Close()
	assert.Equal(t, StateCancelled, wait(t, s))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 1)
	assert.Equal(t, protocol.Stopped{}, rec.events[0])
	assert.Equal(t, StateCancelled, rec.states[0])
}

func TestSession_CloseWhileIdleIsSilent(t *testing.T) {
	rec := &recorder{}
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 2}, Options{Observer: rec.observe})

	require.NoError(t, s.Start(context.Background(), request()))
	wait(t, s)
	rec.reset()

	s.Close()
	assert.Equal(t, 0, rec.terminals())
	assert.Equal(t, StateCompleted, s.State())
}

func TestSession_LogsSessionIDOnce(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewSession("s1", &enginetest.Engine{TotalCycles: 2}, Options{Logger: logger})

	require.NoError(t, s.Start(context.Background(), request()))
	assert.Equal(t, StateCompleted, wait(t, s))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"session_id"`), line)
	}
}

// syncBuffer is a bytes.Buffer shared by the session and controller goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseOperators(t *testing.T) {
	assert.Equal(t, []string{"+", "sin"}, ParseOperators(" +, sin ,,"))
	assert.Equal(t, engine.DefaultOperators, ParseOperators("   "))
	assert.Equal(t, engine.DefaultOperators, ParseOperators(""))

	// the fallback is a copy
	ops := ParseOperators("")
	ops[0] = "changed"
	assert.Equal(t, "+", engine.DefaultOperators[0])
}

func TestRunState(t *testing.T) {
	assert.True(t, StateRunning.Active())
	assert.True(t, StateInitializing.Active())
	assert.False(t, StateIdle.Active())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}
